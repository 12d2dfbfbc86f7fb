// Package dbtest spins up a throwaway PostgreSQL container for integration
// tests against DBStateManager.
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//		ctx := context.Background()
//		db, cleanup := dbtest.SetupPostgresWithMigrations(ctx, t)
//		defer cleanup()
//
//		store := orchwf.NewDBStateManager(db)
//		// ...
//	}
package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stepflow/orchwf/migrate"
)

// SetupPostgresContainer starts a PostgreSQL container and returns an open
// connection to it, plus a cleanup function the caller must defer.
func SetupPostgresContainer(ctx context.Context, t *testing.T) (*postgres.PostgresContainer, *sql.DB, func()) {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("orchwf_test"),
		postgres.WithUsername("orchwf"),
		postgres.WithPassword("orchwf"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "failed to open database connection")

	require.NoError(t, db.Ping(), "failed to ping database")

	cleanup := func() {
		if db != nil {
			db.Close()
		}
		if pgContainer != nil {
			pgContainer.Terminate(ctx)
		}
	}

	return pgContainer, db, cleanup
}

// SetupPostgresWithMigrations starts a PostgreSQL container and applies the
// orchwf schema migrations, returning a ready-to-use connection.
func SetupPostgresWithMigrations(ctx context.Context, t *testing.T) (*sql.DB, func()) {
	t.Helper()

	_, db, cleanup := SetupPostgresContainer(ctx, t)

	require.NoError(t, migrate.NewMigrator(db).Migrate(ctx), "failed to apply migrations")

	return db, cleanup
}
