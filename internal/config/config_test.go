package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "DB_NAME", "SYNC_WORKERS", "SYNC_INTERVAL",
		"SYNC_RUN_TIMEOUT", "SYNC_RETRY_DELAY", "SYNC_TIMEZONE", "LOG_LEVEL", "DB_MAX_CONNS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "price_pulse_db", cfg.Database.DBName)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Sync.Interval)
	assert.Zero(t, cfg.Sync.RunTimeout)
	assert.Equal(t, "Europe/Kyiv", cfg.Sync.Location.String())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_USER", "pulse")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("SYNC_WORKERS", "0")
	t.Setenv("SYNC_INTERVAL", "90m")
	t.Setenv("SYNC_RUN_TIMEOUT", "5m")
	t.Setenv("SYNC_TIMEZONE", "UTC")
	t.Setenv("SNAPSHOT_DIR", "/var/lib/pricepulse")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pulse", cfg.Database.User)
	assert.Equal(t, "5433", cfg.Database.Port)
	assert.Equal(t, 1, cfg.Sync.Workers)
	assert.Equal(t, 90*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Sync.RunTimeout)
	assert.Equal(t, time.UTC, cfg.Sync.Location)
	assert.Equal(t, "/var/lib/pricepulse", cfg.Sync.SnapshotDir)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "daily")
	t.Setenv("SYNC_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_INTERVAL")
	assert.Contains(t, err.Error(), "SYNC_TIMEZONE")
}

func TestLoad_MaxConnsOutOfRange(t *testing.T) {
	for _, v := range []string{"0", "-5", "4294967296"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("DB_MAX_CONNS", v)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "DB_MAX_CONNS")
		})
	}

	t.Setenv("DB_MAX_CONNS", "25")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int32(25), cfg.Database.MaxConns)
}
