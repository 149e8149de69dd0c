// Package dbtest starts a disposable PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/valeevte/PricePulse/internal/database"
)

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

const (
	dbName = "pricepulse_test"
	dbUser = "testuser"
	dbPass = "testpass"
)

// SetupPool starts postgres:16-alpine, applies the migrations (up, down, up
// again to exercise the down script) and returns a pool. The test is skipped
// under -short or when no container runtime is available.
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(&nopLogger{}),
	)
	tc.CleanupContainer(t, container)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrateStr := "pgx5://" + strings.TrimPrefix(connStr, "postgres://")
	require.NoError(t, database.MigrateUp(migrateStr))
	require.NoError(t, database.MigrateDown(migrateStr, 1))
	require.NoError(t, database.MigrateUp(migrateStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}
