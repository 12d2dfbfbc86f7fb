package orchwf

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DBStateManager implements StateManager against PostgreSQL using
// database/sql and lib/pq, mirroring the teacher's db_state_manager.go
// query shape and parameter binding style over the four-table schema
// produced by the migrate package.
type DBStateManager struct {
	db *sql.DB
}

// NewDBStateManager wraps an already-opened *sql.DB (registered with the
// "postgres" driver via lib/pq).
func NewDBStateManager(db *sql.DB) *DBStateManager {
	return &DBStateManager{db: db}
}

func (m *DBStateManager) CreateWorkflowInstance(ctx context.Context, wi *WorkflowInstance) error {
	const query = `
		INSERT INTO orchwf_workflow_instances
			(workflow_id, workflow_name, status, start_time, payload_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if wi.Status == "" {
		wi.Status = WorkflowInstantiated
	}
	if wi.StartTime.IsZero() {
		wi.StartTime = time.Now()
	}
	err := m.db.QueryRowContext(ctx, query,
		wi.WorkflowID, wi.WorkflowName, string(wi.Status), wi.StartTime, jsonOrNull(wi.PayloadData),
	).Scan(&wi.ID)
	return errors.Wrap(err, "orchwf: create workflow instance")
}

func (m *DBStateManager) GetWorkflowInstance(ctx context.Context, id int64) (*WorkflowInstance, error) {
	const query = `
		SELECT id, workflow_id, workflow_name, status, start_time, end_time, error_message, payload_data
		FROM orchwf_workflow_instances WHERE id = $1`
	wi := &WorkflowInstance{}
	var status string
	var payload []byte
	err := m.db.QueryRowContext(ctx, query, id).Scan(
		&wi.ID, &wi.WorkflowID, &wi.WorkflowName, &status, &wi.StartTime, &wi.EndTime, &wi.ErrorMessage, &payload,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "orchwf: get workflow instance")
	}
	wi.Status = WorkflowStatus(status)
	wi.PayloadData = payload
	return wi, nil
}

func (m *DBStateManager) SetWorkflowStatus(ctx context.Context, id int64, to WorkflowStatus) error {
	return withTx(ctx, m.db, func(tx *sql.Tx) error {
		var from string
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM orchwf_workflow_instances WHERE id = $1 FOR UPDATE`, id,
		).Scan(&from); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "orchwf: lock workflow instance")
		}
		fromStatus := WorkflowStatus(from)
		if !IsValidWorkflowTransition(fromStatus, to) {
			return &ErrIllegalTransition{Entity: "workflow", From: from, To: string(to)}
		}
		if fromStatus != to {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO orchwf_workflow_lifecycle (id, workflow_instance_id, from_state, to_state, change_dt, changed_by)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				newLifecycleID(), id, from, string(to), time.Now(), "auto",
			); err != nil {
				return errors.Wrap(err, "orchwf: journal workflow lifecycle")
			}
		}
		query := `UPDATE orchwf_workflow_instances SET status = $1`
		args := []interface{}{string(to)}
		if IsWorkflowTerminal(to) || to == WorkflowFailed {
			query += `, end_time = COALESCE(end_time, $2) WHERE id = $3`
			args = append(args, time.Now(), id)
		} else {
			query += `, end_time = NULL WHERE id = $2`
			args = append(args, id)
		}
		_, err := tx.ExecContext(ctx, query, args...)
		return errors.Wrap(err, "orchwf: update workflow status")
	})
}

func (m *DBStateManager) SetWorkflowError(ctx context.Context, id int64, message string) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE orchwf_workflow_instances SET error_message = $1 WHERE id = $2`, message, id)
	return errors.Wrap(err, "orchwf: set workflow error")
}

func (m *DBStateManager) ListWorkflowInstances(ctx context.Context, filter WorkflowFilter) ([]*WorkflowInstance, error) {
	query := `SELECT id, workflow_id, workflow_name, status, start_time, end_time, error_message, payload_data
		FROM orchwf_workflow_instances WHERE 1=1`
	var args []interface{}
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += " AND workflow_id = $" + itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += " AND status = $" + itoa(len(args))
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + itoa(len(args))
	}
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "orchwf: list workflow instances")
	}
	defer rows.Close()
	var out []*WorkflowInstance
	for rows.Next() {
		wi := &WorkflowInstance{}
		var status string
		var payload []byte
		if err := rows.Scan(&wi.ID, &wi.WorkflowID, &wi.WorkflowName, &status, &wi.StartTime, &wi.EndTime, &wi.ErrorMessage, &payload); err != nil {
			return nil, errors.Wrap(err, "orchwf: scan workflow instance")
		}
		wi.Status = WorkflowStatus(status)
		wi.PayloadData = payload
		out = append(out, wi)
	}
	return out, rows.Err()
}

func (m *DBStateManager) ListWorkflowLifecycle(ctx context.Context, workflowInstanceID int64) ([]*WorkflowLifecycle, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, workflow_instance_id, from_state, to_state, change_dt, changed_by, notes
		FROM orchwf_workflow_lifecycle WHERE workflow_instance_id = $1 ORDER BY change_dt ASC`, workflowInstanceID)
	if err != nil {
		return nil, errors.Wrap(err, "orchwf: list workflow lifecycle")
	}
	defer rows.Close()
	var out []*WorkflowLifecycle
	for rows.Next() {
		l := &WorkflowLifecycle{}
		var from, to string
		var notes sql.NullString
		if err := rows.Scan(&l.ID, &l.WorkflowInstanceID, &from, &to, &l.ChangeDT, &l.ChangedBy, &notes); err != nil {
			return nil, errors.Wrap(err, "orchwf: scan workflow lifecycle")
		}
		l.FromState, l.ToState = WorkflowStatus(from), WorkflowStatus(to)
		l.Notes = notes.String
		out = append(out, l)
	}
	return out, rows.Err()
}

func (m *DBStateManager) CreateWorkstepInstance(ctx context.Context, si *WorkstepInstance) error {
	const query = `
		INSERT INTO orchwf_workstep_instances
			(workflow_instance_id, step_id, step_name, bian_sd, status, attempt_number, max_retries, retry_delay, payload_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if si.Status == "" {
		si.Status = WorkstepInstantiated
	}
	err := m.db.QueryRowContext(ctx, query,
		nullInt64(si.WorkflowInstanceID), si.StepID, si.StepName, si.BianSD, string(si.Status),
		si.AttemptNumber, si.MaxRetries, si.RetryDelay, jsonOrNull(si.PayloadData),
	).Scan(&si.ID)
	return errors.Wrap(err, "orchwf: create workstep instance")
}

func (m *DBStateManager) GetWorkstepInstance(ctx context.Context, id int64) (*WorkstepInstance, error) {
	const query = `
		SELECT id, workflow_instance_id, step_id, step_name, bian_sd, status, attempt_number,
		       max_retries, retry_delay, start_time, end_time, error_message, result_data, payload_data
		FROM orchwf_workstep_instances WHERE id = $1`
	si := &WorkstepInstance{}
	var status string
	var wfID sql.NullInt64
	var result, payload []byte
	err := m.db.QueryRowContext(ctx, query, id).Scan(
		&si.ID, &wfID, &si.StepID, &si.StepName, &si.BianSD, &status, &si.AttemptNumber,
		&si.MaxRetries, &si.RetryDelay, &si.StartTime, &si.EndTime, &si.ErrorMessage, &result, &payload,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "orchwf: get workstep instance")
	}
	si.Status = WorkstepStatus(status)
	if wfID.Valid {
		si.WorkflowInstanceID = &wfID.Int64
	}
	si.ResultData, si.PayloadData = result, payload
	return si, nil
}

func (m *DBStateManager) scanWorksteps(rows *sql.Rows) ([]*WorkstepInstance, error) {
	defer rows.Close()
	var out []*WorkstepInstance
	for rows.Next() {
		si := &WorkstepInstance{}
		var status string
		var wfID sql.NullInt64
		var result, payload []byte
		if err := rows.Scan(
			&si.ID, &wfID, &si.StepID, &si.StepName, &si.BianSD, &status, &si.AttemptNumber,
			&si.MaxRetries, &si.RetryDelay, &si.StartTime, &si.EndTime, &si.ErrorMessage, &result, &payload,
		); err != nil {
			return nil, errors.Wrap(err, "orchwf: scan workstep instance")
		}
		si.Status = WorkstepStatus(status)
		if wfID.Valid {
			si.WorkflowInstanceID = &wfID.Int64
		}
		si.ResultData, si.PayloadData = result, payload
		out = append(out, si)
	}
	return out, rows.Err()
}

const worstepColumns = `id, workflow_instance_id, step_id, step_name, bian_sd, status, attempt_number,
		       max_retries, retry_delay, start_time, end_time, error_message, result_data, payload_data`

func (m *DBStateManager) ListWorkstepInstancesForWorkflow(ctx context.Context, workflowInstanceID int64) ([]*WorkstepInstance, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+worstepColumns+` FROM orchwf_workstep_instances WHERE workflow_instance_id = $1 ORDER BY id ASC`,
		workflowInstanceID)
	if err != nil {
		return nil, errors.Wrap(err, "orchwf: list worksteps for workflow")
	}
	return m.scanWorksteps(rows)
}

func (m *DBStateManager) ListWorkstepInstancesByStepID(ctx context.Context, stepID string) ([]*WorkstepInstance, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+worstepColumns+` FROM orchwf_workstep_instances WHERE step_id = $1 ORDER BY id ASC`, stepID)
	if err != nil {
		return nil, errors.Wrap(err, "orchwf: list worksteps by step id")
	}
	return m.scanWorksteps(rows)
}

func (m *DBStateManager) BeginWorkstepAttempt(ctx context.Context, id int64, attempt int) error {
	return withTx(ctx, m.db, func(tx *sql.Tx) error {
		var from string
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM orchwf_workstep_instances WHERE id = $1 FOR UPDATE`, id,
		).Scan(&from); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "orchwf: lock workstep instance")
		}
		fromStatus := WorkstepStatus(from)
		if !IsValidWorkstepTransition(fromStatus, WorkstepRunning) {
			return &ErrIllegalTransition{Entity: "workstep", From: from, To: string(WorkstepRunning)}
		}
		if fromStatus != WorkstepRunning {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO orchwf_workstep_lifecycle (id, workstep_instance_id, from_state, to_state, change_dt, changed_by)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				newLifecycleID(), id, from, string(WorkstepRunning), time.Now(), "auto",
			); err != nil {
				return errors.Wrap(err, "orchwf: journal workstep lifecycle")
			}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE orchwf_workstep_instances
			SET status = $1, attempt_number = $2, start_time = $3, end_time = NULL
			WHERE id = $4`, string(WorkstepRunning), attempt, time.Now(), id)
		return errors.Wrap(err, "orchwf: begin workstep attempt")
	})
}

func (m *DBStateManager) SetWorkstepStatus(ctx context.Context, id int64, to WorkstepStatus) error {
	return withTx(ctx, m.db, func(tx *sql.Tx) error {
		var from string
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM orchwf_workstep_instances WHERE id = $1 FOR UPDATE`, id,
		).Scan(&from); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "orchwf: lock workstep instance")
		}
		fromStatus := WorkstepStatus(from)
		if !IsValidWorkstepTransition(fromStatus, to) {
			return &ErrIllegalTransition{Entity: "workstep", From: from, To: string(to)}
		}
		if fromStatus != to {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO orchwf_workstep_lifecycle (id, workstep_instance_id, from_state, to_state, change_dt, changed_by)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				newLifecycleID(), id, from, string(to), time.Now(), "auto",
			); err != nil {
				return errors.Wrap(err, "orchwf: journal workstep lifecycle")
			}
		}
		query := `UPDATE orchwf_workstep_instances SET status = $1`
		args := []interface{}{string(to)}
		if IsWorkstepTerminal(to) || to == WorkstepFailed {
			query += `, end_time = COALESCE(end_time, $2) WHERE id = $3`
			args = append(args, time.Now(), id)
		} else {
			query += `, end_time = NULL WHERE id = $2`
			args = append(args, id)
		}
		_, err := tx.ExecContext(ctx, query, args...)
		return errors.Wrap(err, "orchwf: update workstep status")
	})
}

func (m *DBStateManager) SetWorkstepResult(ctx context.Context, id int64, result json.RawMessage) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE orchwf_workstep_instances SET result_data = $1 WHERE id = $2`, jsonOrNull(result), id)
	return errors.Wrap(err, "orchwf: set workstep result")
}

func (m *DBStateManager) SetWorkstepError(ctx context.Context, id int64, message string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE orchwf_workstep_instances SET error_message = $1 WHERE id = $2`, message, id)
	return errors.Wrap(err, "orchwf: set workstep error")
}

func (m *DBStateManager) ListWorkstepLifecycle(ctx context.Context, workstepInstanceID int64) ([]*WorkstepLifecycle, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, workstep_instance_id, from_state, to_state, change_dt, changed_by, notes
		FROM orchwf_workstep_lifecycle WHERE workstep_instance_id = $1 ORDER BY change_dt ASC`, workstepInstanceID)
	if err != nil {
		return nil, errors.Wrap(err, "orchwf: list workstep lifecycle")
	}
	defer rows.Close()
	var out []*WorkstepLifecycle
	for rows.Next() {
		l := &WorkstepLifecycle{}
		var from, to string
		var notes sql.NullString
		if err := rows.Scan(&l.ID, &l.WorkstepInstanceID, &from, &to, &l.ChangeDT, &l.ChangedBy, &notes); err != nil {
			return nil, errors.Wrap(err, "orchwf: scan workstep lifecycle")
		}
		l.FromState, l.ToState = WorkstepStatus(from), WorkstepStatus(to)
		l.Notes = notes.String
		out = append(out, l)
	}
	return out, rows.Err()
}

func (m *DBStateManager) RetentionSweep(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM orchwf_workflow_instances WHERE start_time < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "orchwf: retention sweep")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "orchwf: retention sweep row count")
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic - the same compound lock/journal/write/commit
// shape the teacher used for its transaction helper, rewritten to actually
// thread the *sql.Tx through instead of stashing it on the context.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "orchwf: begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "orchwf: commit transaction")
}

func jsonOrNull(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func itoa(i int) string { return strconv.Itoa(i) }
