// Package config loads application settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // SYNC_TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"

	"github.com/valeevte/PricePulse/internal/database"
	"github.com/valeevte/PricePulse/internal/snapshot"
)

// Config is the whole application configuration. Load it once at startup.
type Config struct {
	Database database.DBConfig
	HTTP     HTTPConfig
	Sync     SyncConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Port    string
	GinMode string
}

// SyncConfig drives the scheduler and the run coordinator.
type SyncConfig struct {
	// Workers bounds concurrent item reconciliation.
	Workers int
	// Interval between scheduled runs. The scraper dumps once a day.
	Interval time.Duration
	// RunTimeout is the overall deadline of one run; zero disables it.
	RunTimeout time.Duration
	// RetryDelay is the pause before retrying a constraint violation.
	RetryDelay time.Duration
	// Location decides the calendar date of an observation.
	Location *time.Location
	// SnapshotDir and SnapshotPattern locate the scraper's daily dump.
	SnapshotDir     string
	SnapshotPattern string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads the configuration. A missing .env file is not an error; an
// unparsable value is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	maxConns := getEnvInt("DB_MAX_CONNS", 10)
	if maxConns < 1 || maxConns > math.MaxInt32 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be between 1 and %d, got %d", math.MaxInt32, maxConns))
	}

	tzName := getEnv("SYNC_TIMEZONE", "Europe/Kyiv")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		errs = append(errs, fmt.Errorf("SYNC_TIMEZONE %q: %w", tzName, err))
		loc = time.UTC
	}

	cfg := &Config{
		Database: database.DBConfig{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			DBName:   getEnv("DB_NAME", "price_pulse_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(maxConns),
		},
		HTTP: HTTPConfig{
			Port:    getEnv("PORT", "8080"),
			GinMode: os.Getenv("GIN_MODE"),
		},
		Sync: SyncConfig{
			Workers:         getEnvInt("SYNC_WORKERS", 4),
			Interval:        duration("SYNC_INTERVAL", 24*time.Hour),
			RunTimeout:      duration("SYNC_RUN_TIMEOUT", 0),
			RetryDelay:      duration("SYNC_RETRY_DELAY", 200*time.Millisecond),
			Location:        loc,
			SnapshotDir:     getEnv("SNAPSHOT_DIR", "data/bronze"),
			SnapshotPattern: getEnv("SNAPSHOT_PATTERN", snapshot.DefaultPattern),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if cfg.Sync.Workers < 1 {
		cfg.Sync.Workers = 1
	}
	if cfg.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_INTERVAL must be positive, got %s", cfg.Sync.Interval))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
