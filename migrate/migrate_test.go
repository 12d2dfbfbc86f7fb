package migrate_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stepflow/orchwf/migrate"
)

func setupDB(ctx context.Context, t *testing.T) (*sql.DB, func()) {
	t.Helper()
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("orchwf_migrate_test"),
		postgres.WithUsername("orchwf"),
		postgres.WithPassword("orchwf"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute)),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	return db, func() {
		db.Close()
		pgContainer.Terminate(ctx)
	}
}

func TestMigratorAppliesAndTracksVersions(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupDB(ctx, t)
	defer cleanup()

	m := migrate.NewMigrator(db)
	require.NoError(t, m.Migrate(ctx))

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.True(t, applied["001"])

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name = 'orchwf_workflow_instances'`,
	).Scan(&count))
	assert.Equal(t, 1, count)

	// Migrating again is a no-op, not an error.
	require.NoError(t, m.Migrate(ctx))
}

func TestMigratorRollback(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupDB(ctx, t)
	defer cleanup()

	m := migrate.NewMigrator(db)
	require.NoError(t, m.Migrate(ctx))
	require.NoError(t, m.Rollback(ctx))

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.False(t, applied["001"])

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name = 'orchwf_workflow_instances'`,
	).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestRollbackWithNothingAppliedFails(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupDB(ctx, t)
	defer cleanup()

	m := migrate.NewMigrator(db)
	err := m.Rollback(ctx)
	assert.Error(t, err)
}

func TestQuickSetup(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupDB(ctx, t)
	defer cleanup()

	require.NoError(t, migrate.QuickSetupWithContext(ctx, db))

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name = 'orchwf_workstep_lifecycle'`,
	).Scan(&count))
	assert.Equal(t, 1, count)
}
