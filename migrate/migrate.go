package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Migration represents one versioned, reversible schema change.
type Migration struct {
	Version     string
	Description string
	Up          string
	Down        string
}

// Migrator applies and tracks migrations against a *sql.DB.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator creates a Migrator using the built-in orchwf migrations.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, migrations: getDefaultMigrations()}
}

// NewMigratorWithMigrations creates a Migrator using a custom migration set.
func NewMigratorWithMigrations(db *sql.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

// Migrate applies every pending migration in order.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.createMigrationsTable(ctx); err != nil {
		return errors.Wrap(err, "create migrations table")
	}
	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return errors.Wrap(err, "get applied migrations")
	}
	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			return errors.Wrapf(err, "apply migration %s", migration.Version)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return errors.Wrap(err, "get applied migrations")
	}
	var last *Migration
	for i := len(m.migrations) - 1; i >= 0; i-- {
		if applied[m.migrations[i].Version] {
			last = &m.migrations[i]
			break
		}
	}
	if last == nil {
		return errors.New("no migrations to rollback")
	}
	if err := m.rollbackMigration(ctx, *last); err != nil {
		return errors.Wrapf(err, "rollback migration %s", last.Version)
	}
	return nil
}

// AppliedVersions reports which migration versions have already run.
func (m *Migrator) AppliedVersions(ctx context.Context) (map[string]bool, error) {
	return m.getAppliedMigrations(ctx)
}

// Status prints each migration's version, description, and applied/pending
// state to stdout.
func (m *Migrator) Status(ctx context.Context) error {
	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return errors.Wrap(err, "get applied migrations")
	}
	fmt.Println("Migration Status:")
	fmt.Println("=================")
	for _, migration := range m.migrations {
		status := "PENDING"
		if applied[migration.Version] {
			status = "APPLIED"
		}
		fmt.Printf("%s - %s: %s\n", migration.Version, migration.Description, status)
	}
	return nil
}

func (m *Migrator) createMigrationsTable(ctx context.Context) error {
	const query = `
	CREATE TABLE IF NOT EXISTS orchwf_migrations (
		version VARCHAR(255) PRIMARY KEY,
		description TEXT,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM orchwf_migrations ORDER BY applied_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orchwf_migrations (version, description) VALUES ($1, $2)`,
		migration.Version, migration.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Migrator) rollbackMigration(ctx context.Context, migration Migration) error {
	if migration.Down == "" {
		return errors.Errorf("no rollback script for migration %s", migration.Version)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orchwf_migrations WHERE version = $1`, migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

func getDefaultMigrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "Create orchwf workflow/workstep instance and lifecycle tables",
			Up:          orchwfTablesSQL,
			Down:        orchwfTablesRollbackSQL,
		},
	}
}

// orchwfTablesSQL creates the four tables backing DBStateManager: workflow
// instances, workstep instances (nullable FK, for standalone runs), and
// their append-only lifecycle journals.
const orchwfTablesSQL = `
CREATE TABLE IF NOT EXISTS orchwf_workflow_instances (
    id BIGSERIAL PRIMARY KEY,
    workflow_id VARCHAR(255) NOT NULL,
    workflow_name VARCHAR(255) NOT NULL,
    status VARCHAR(50) NOT NULL,
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP,
    error_message TEXT,
    payload_data JSONB
);

CREATE INDEX IF NOT EXISTS idx_orchwf_workflow_instances_workflow_id ON orchwf_workflow_instances(workflow_id);
CREATE INDEX IF NOT EXISTS idx_orchwf_workflow_instances_status ON orchwf_workflow_instances(status);
CREATE INDEX IF NOT EXISTS idx_orchwf_workflow_instances_start_time ON orchwf_workflow_instances(start_time DESC);

CREATE TABLE IF NOT EXISTS orchwf_workstep_instances (
    id BIGSERIAL PRIMARY KEY,
    workflow_instance_id BIGINT REFERENCES orchwf_workflow_instances(id) ON DELETE CASCADE,
    step_id VARCHAR(255) NOT NULL,
    step_name VARCHAR(255) NOT NULL,
    bian_sd VARCHAR(255) NOT NULL DEFAULT 'UNKNOWN?',
    status VARCHAR(50) NOT NULL,
    attempt_number INT NOT NULL DEFAULT 0,
    max_retries INT NOT NULL DEFAULT 0,
    retry_delay INT NOT NULL DEFAULT 0,
    start_time TIMESTAMP,
    end_time TIMESTAMP,
    error_message TEXT,
    result_data JSONB,
    payload_data JSONB
);

CREATE INDEX IF NOT EXISTS idx_orchwf_workstep_instances_workflow_instance_id ON orchwf_workstep_instances(workflow_instance_id);
CREATE INDEX IF NOT EXISTS idx_orchwf_workstep_instances_step_id ON orchwf_workstep_instances(step_id);
CREATE INDEX IF NOT EXISTS idx_orchwf_workstep_instances_status ON orchwf_workstep_instances(status);

CREATE TABLE IF NOT EXISTS orchwf_workflow_lifecycle (
    id VARCHAR(36) PRIMARY KEY,
    workflow_instance_id BIGINT NOT NULL REFERENCES orchwf_workflow_instances(id) ON DELETE CASCADE,
    from_state VARCHAR(50) NOT NULL,
    to_state VARCHAR(50) NOT NULL,
    change_dt TIMESTAMP NOT NULL,
    changed_by VARCHAR(255) NOT NULL DEFAULT 'auto',
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_orchwf_workflow_lifecycle_workflow_instance_id ON orchwf_workflow_lifecycle(workflow_instance_id);

CREATE TABLE IF NOT EXISTS orchwf_workstep_lifecycle (
    id VARCHAR(36) PRIMARY KEY,
    workstep_instance_id BIGINT NOT NULL REFERENCES orchwf_workstep_instances(id) ON DELETE CASCADE,
    from_state VARCHAR(50) NOT NULL,
    to_state VARCHAR(50) NOT NULL,
    change_dt TIMESTAMP NOT NULL,
    changed_by VARCHAR(255) NOT NULL DEFAULT 'auto',
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_orchwf_workstep_lifecycle_workstep_instance_id ON orchwf_workstep_lifecycle(workstep_instance_id);
`

const orchwfTablesRollbackSQL = `
DROP TABLE IF EXISTS orchwf_workstep_lifecycle;
DROP TABLE IF EXISTS orchwf_workflow_lifecycle;
DROP TABLE IF EXISTS orchwf_workstep_instances;
DROP TABLE IF EXISTS orchwf_workflow_instances;
`

// LoadMigrationsFromFile loads a single migration whose Up script is the
// full contents of filePath (no Down script).
func LoadMigrationsFromFile(filePath string) ([]Migration, error) {
	content, err := ioutil.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "read migration file %s", filePath)
	}
	return []Migration{{
		Version:     filepath.Base(filePath),
		Description: "migration from " + filePath,
		Up:          string(content),
	}}, nil
}

// QuickSetup applies the built-in orchwf migrations with a 30s timeout.
func QuickSetup(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return NewMigrator(db).Migrate(ctx)
}

// QuickSetupWithContext applies the built-in orchwf migrations using ctx.
func QuickSetupWithContext(ctx context.Context, db *sql.DB) error {
	return NewMigrator(db).Migrate(ctx)
}
