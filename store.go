package orchwf

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StateManager persists WorkflowInstance/WorkstepInstance rows and their
// lifecycle journals. Every status-setting method performs the atomic
// read-current/journal-if-changed/write/commit sequence from spec §4.6.
type StateManager interface {
	// CreateWorkflowInstance inserts wi (state INSTANTIATED) and assigns wi.ID.
	CreateWorkflowInstance(ctx context.Context, wi *WorkflowInstance) error
	GetWorkflowInstance(ctx context.Context, id int64) (*WorkflowInstance, error)
	// SetWorkflowStatus transitions the row to to, validating the edge,
	// journaling iff the status actually changes, setting EndTime when to is
	// terminal or FAILED, and clearing it otherwise.
	SetWorkflowStatus(ctx context.Context, id int64, to WorkflowStatus) error
	SetWorkflowError(ctx context.Context, id int64, message string) error
	ListWorkflowInstances(ctx context.Context, filter WorkflowFilter) ([]*WorkflowInstance, error)
	ListWorkflowLifecycle(ctx context.Context, workflowInstanceID int64) ([]*WorkflowLifecycle, error)

	// CreateWorkstepInstance inserts si (state INSTANTIATED) and assigns si.ID.
	CreateWorkstepInstance(ctx context.Context, si *WorkstepInstance) error
	GetWorkstepInstance(ctx context.Context, id int64) (*WorkstepInstance, error)
	ListWorkstepInstancesForWorkflow(ctx context.Context, workflowInstanceID int64) ([]*WorkstepInstance, error)
	ListWorkstepInstancesByStepID(ctx context.Context, stepID string) ([]*WorkstepInstance, error)
	// BeginWorkstepAttempt sets AttemptNumber to attempt, sets StartTime,
	// clears EndTime, and transitions the row to RUNNING (from any status
	// with a legal edge to RUNNING; a row already RUNNING, as between
	// retries, stays RUNNING without a new journal entry).
	BeginWorkstepAttempt(ctx context.Context, id int64, attempt int) error
	SetWorkstepStatus(ctx context.Context, id int64, to WorkstepStatus) error
	SetWorkstepResult(ctx context.Context, id int64, result json.RawMessage) error
	SetWorkstepError(ctx context.Context, id int64, message string) error
	ListWorkstepLifecycle(ctx context.Context, workstepInstanceID int64) ([]*WorkstepLifecycle, error)

	// RetentionSweep deletes workflow instances (cascading to their worksteps
	// and lifecycle journals) whose StartTime is before cutoff, returning the
	// number of workflow rows deleted.
	RetentionSweep(ctx context.Context, cutoff time.Time) (int64, error)
}

// WorkflowFilter narrows ListWorkflowInstances. Zero-valued fields are ignored.
type WorkflowFilter struct {
	WorkflowID string
	Status     WorkflowStatus
	Limit      int
	Offset     int
}

func newLifecycleID() string { return uuid.New().String() }

// InMemoryStateManager is a StateManager backed by in-process maps, used in
// tests. It mirrors the teacher's deep-copy-on-
// access pattern so callers can't mutate stored state through a returned
// pointer.
type InMemoryStateManager struct {
	mu          sync.Mutex
	nextWFID    int64
	nextStepID  int64
	workflows   map[int64]*WorkflowInstance
	worksteps   map[int64]*WorkstepInstance
	wfLifecycle map[int64][]*WorkflowLifecycle
	stLifecycle map[int64][]*WorkstepLifecycle
}

// NewInMemoryStateManager creates an empty in-memory StateManager.
func NewInMemoryStateManager() *InMemoryStateManager {
	return &InMemoryStateManager{
		workflows:   make(map[int64]*WorkflowInstance),
		worksteps:   make(map[int64]*WorkstepInstance),
		wfLifecycle: make(map[int64][]*WorkflowLifecycle),
		stLifecycle: make(map[int64][]*WorkstepLifecycle),
	}
}

func copyWorkflow(w *WorkflowInstance) *WorkflowInstance {
	cp := *w
	if w.EndTime != nil {
		t := *w.EndTime
		cp.EndTime = &t
	}
	if w.ErrorMessage != nil {
		m := *w.ErrorMessage
		cp.ErrorMessage = &m
	}
	return &cp
}

func copyWorkstep(s *WorkstepInstance) *WorkstepInstance {
	cp := *s
	if s.WorkflowInstanceID != nil {
		id := *s.WorkflowInstanceID
		cp.WorkflowInstanceID = &id
	}
	if s.StartTime != nil {
		t := *s.StartTime
		cp.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	if s.ErrorMessage != nil {
		m := *s.ErrorMessage
		cp.ErrorMessage = &m
	}
	return &cp
}

func (m *InMemoryStateManager) CreateWorkflowInstance(ctx context.Context, wi *WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wi.StartTime.IsZero() {
		wi.StartTime = time.Now()
	}
	m.nextWFID++
	wi.ID = m.nextWFID
	m.workflows[wi.ID] = copyWorkflow(wi)
	return nil
}

func (m *InMemoryStateManager) GetWorkflowInstance(ctx context.Context, id int64) (*WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wi, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWorkflow(wi), nil
}

func (m *InMemoryStateManager) SetWorkflowStatus(ctx context.Context, id int64, to WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wi, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	from := wi.Status
	if !IsValidWorkflowTransition(from, to) {
		return &ErrIllegalTransition{Entity: "workflow", From: string(from), To: string(to)}
	}
	if from != to {
		m.wfLifecycle[id] = append(m.wfLifecycle[id], &WorkflowLifecycle{
			ID: newLifecycleID(), WorkflowInstanceID: id,
			FromState: from, ToState: to, ChangeDT: time.Now(), ChangedBy: "auto",
		})
	}
	wi.Status = to
	if IsWorkflowTerminal(to) || to == WorkflowFailed {
		if wi.EndTime == nil {
			now := time.Now()
			wi.EndTime = &now
		}
	} else {
		wi.EndTime = nil
	}
	return nil
}

func (m *InMemoryStateManager) SetWorkflowError(ctx context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wi, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	wi.ErrorMessage = &message
	return nil
}

func (m *InMemoryStateManager) ListWorkflowInstances(ctx context.Context, filter WorkflowFilter) ([]*WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*WorkflowInstance
	for _, wi := range m.workflows {
		if filter.WorkflowID != "" && wi.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && wi.Status != filter.Status {
			continue
		}
		all = append(all, copyWorkflow(wi))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })
	if filter.Offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return all[filter.Offset:end], nil
}

func (m *InMemoryStateManager) ListWorkflowLifecycle(ctx context.Context, workflowInstanceID int64) ([]*WorkflowLifecycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*WorkflowLifecycle, len(m.wfLifecycle[workflowInstanceID]))
	copy(out, m.wfLifecycle[workflowInstanceID])
	return out, nil
}

func (m *InMemoryStateManager) CreateWorkstepInstance(ctx context.Context, si *WorkstepInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if si.WorkflowInstanceID != nil {
		if _, ok := m.workflows[*si.WorkflowInstanceID]; !ok {
			return fmt.Errorf("orchwf: workstep references unknown workflow instance %d", *si.WorkflowInstanceID)
		}
	}
	m.nextStepID++
	si.ID = m.nextStepID
	m.worksteps[si.ID] = copyWorkstep(si)
	return nil
}

func (m *InMemoryStateManager) GetWorkstepInstance(ctx context.Context, id int64) (*WorkstepInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.worksteps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWorkstep(si), nil
}

func (m *InMemoryStateManager) ListWorkstepInstancesForWorkflow(ctx context.Context, workflowInstanceID int64) ([]*WorkstepInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*WorkstepInstance
	for _, si := range m.worksteps {
		if si.WorkflowInstanceID != nil && *si.WorkflowInstanceID == workflowInstanceID {
			out = append(out, copyWorkstep(si))
		}
	}
	sortWorkstepsByID(out)
	return out, nil
}

func (m *InMemoryStateManager) ListWorkstepInstancesByStepID(ctx context.Context, stepID string) ([]*WorkstepInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*WorkstepInstance
	for _, si := range m.worksteps {
		if si.StepID == stepID {
			out = append(out, copyWorkstep(si))
		}
	}
	sortWorkstepsByID(out)
	return out, nil
}

func sortWorkstepsByID(steps []*WorkstepInstance) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
}

func (m *InMemoryStateManager) BeginWorkstepAttempt(ctx context.Context, id int64, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.worksteps[id]
	if !ok {
		return ErrNotFound
	}
	from := si.Status
	if !IsValidWorkstepTransition(from, WorkstepRunning) {
		return &ErrIllegalTransition{Entity: "workstep", From: string(from), To: string(WorkstepRunning)}
	}
	if from != WorkstepRunning {
		m.stLifecycle[id] = append(m.stLifecycle[id], &WorkstepLifecycle{
			ID: newLifecycleID(), WorkstepInstanceID: id,
			FromState: from, ToState: WorkstepRunning, ChangeDT: time.Now(), ChangedBy: "auto",
		})
	}
	si.Status = WorkstepRunning
	si.AttemptNumber = attempt
	now := time.Now()
	si.StartTime = &now
	si.EndTime = nil
	return nil
}

func (m *InMemoryStateManager) SetWorkstepStatus(ctx context.Context, id int64, to WorkstepStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.worksteps[id]
	if !ok {
		return ErrNotFound
	}
	from := si.Status
	if !IsValidWorkstepTransition(from, to) {
		return &ErrIllegalTransition{Entity: "workstep", From: string(from), To: string(to)}
	}
	if from != to {
		m.stLifecycle[id] = append(m.stLifecycle[id], &WorkstepLifecycle{
			ID: newLifecycleID(), WorkstepInstanceID: id,
			FromState: from, ToState: to, ChangeDT: time.Now(), ChangedBy: "auto",
		})
	}
	si.Status = to
	if IsWorkstepTerminal(to) || to == WorkstepFailed {
		if si.EndTime == nil {
			now := time.Now()
			si.EndTime = &now
		}
	} else {
		si.EndTime = nil
	}
	return nil
}

func (m *InMemoryStateManager) SetWorkstepResult(ctx context.Context, id int64, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.worksteps[id]
	if !ok {
		return ErrNotFound
	}
	si.ResultData = result
	return nil
}

func (m *InMemoryStateManager) SetWorkstepError(ctx context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.worksteps[id]
	if !ok {
		return ErrNotFound
	}
	si.ErrorMessage = &message
	return nil
}

func (m *InMemoryStateManager) ListWorkstepLifecycle(ctx context.Context, workstepInstanceID int64) ([]*WorkstepLifecycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*WorkstepLifecycle, len(m.stLifecycle[workstepInstanceID]))
	copy(out, m.stLifecycle[workstepInstanceID])
	return out, nil
}

func (m *InMemoryStateManager) RetentionSweep(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, wi := range m.workflows {
		if wi.StartTime.Before(cutoff) {
			delete(m.workflows, id)
			delete(m.wfLifecycle, id)
			for sid, si := range m.worksteps {
				if si.WorkflowInstanceID != nil && *si.WorkflowInstanceID == id {
					delete(m.worksteps, sid)
					delete(m.stLifecycle, sid)
				}
			}
			deleted++
		}
	}
	return deleted, nil
}
