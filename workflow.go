package orchwf

import (
	"context"
)

// WorkflowFunc is the user orchestration function a Workflow wraps. ctx
// carries the ambient ExecutionContext when fn is invoked - Execute derives
// and installs it before calling fn.
type WorkflowFunc[D, R any] func(ctx context.Context, data D) (R, error)

// WorkflowOptions configures a Workflow at construction time.
type WorkflowOptions struct {
	// When left blank, WorkflowID defaults to "<Type>.<Func>" derived from
	// the orchestration function's runtime name, and WorkflowName to the
	// bare function name.
	WorkflowID   string
	WorkflowName string
	// RetryPolicy is the workflow-level policy inherited by worksteps that
	// don't resolve a more specific one; defaults to LinearRetryPolicy.
	RetryPolicy RetryPolicy
	Logger      *Logger
}

// Workflow is the outer wrapper around a user orchestration function. It
// mirrors the original's "decorate the class, create the row in __init__"
// shape: NewWorkflow captures data and inserts the WorkflowInstance row
// immediately; Execute runs the captured function against that row.
type Workflow[D, R any] struct {
	store  StateManager
	fn     WorkflowFunc[D, R]
	data   D
	opts   WorkflowOptions
	policy RetryPolicy
	row    *WorkflowInstance
}

// NewWorkflow captures fn and data, resolves the workflow-level retry
// policy, and inserts the WorkflowInstance row in INSTANTIATED.
func NewWorkflow[D, R any](ctx context.Context, store StateManager, fn WorkflowFunc[D, R], data D, opts WorkflowOptions) (*Workflow[D, R], error) {
	if opts.WorkflowID == "" || opts.WorkflowName == "" {
		typeName, funcName := splitFuncName(fn)
		if opts.WorkflowID == "" {
			opts.WorkflowID = typeName + "." + funcName
		}
		if opts.WorkflowName == "" {
			opts.WorkflowName = funcName
		}
	}
	// The workflow's own active policy - which becomes the ambient policy
	// worksteps inherit - resolves instance-held policy over the workflow's
	// declared default, per the precedence order in resolveRetryPolicy.
	var instancePolicy RetryPolicy
	if hp, ok := any(data).(HasRetryPolicy); ok {
		instancePolicy = hp.InstanceRetryPolicy()
	}
	policy := instancePolicy
	if policy == nil {
		policy = opts.RetryPolicy
	}
	if policy == nil {
		policy = NewLinearRetryPolicy(0, 0)
	}

	row := &WorkflowInstance{
		WorkflowID:   opts.WorkflowID,
		WorkflowName: opts.WorkflowName,
		Status:       WorkflowInstantiated,
		PayloadData:  marshalPayload(data),
	}
	if err := store.CreateWorkflowInstance(ctx, row); err != nil {
		return nil, err
	}
	return &Workflow[D, R]{store: store, fn: fn, data: data, opts: opts, policy: policy, row: row}, nil
}

func (w *Workflow[D, R]) logger() *Logger {
	if w.opts.Logger != nil {
		return w.opts.Logger
	}
	return NewNopLogger()
}

// InstanceID returns the surrogate key of the WorkflowInstance row created
// at construction.
func (w *Workflow[D, R]) InstanceID() int64 { return w.row.ID }

// Execute transitions the workflow to RUNNING, installs the ambient
// ExecutionContext, invokes the captured orchestration function, and
// records the terminal transition.
func (w *Workflow[D, R]) Execute(ctx context.Context) (R, error) {
	var zero R
	if err := w.store.SetWorkflowStatus(ctx, w.row.ID, WorkflowRunning); err != nil {
		return zero, err
	}
	instance, err := w.store.GetWorkflowInstance(ctx, w.row.ID)
	if err != nil {
		return zero, err
	}

	ec := &ExecutionContext{
		WorkflowInstance: instance,
		Store:            w.store,
		RetryPolicy:      w.policy,
	}
	runCtx := WithExecutionContext(ctx, ec)

	result, err := w.fn(runCtx, w.data)
	if err != nil {
		if serr := w.store.SetWorkflowError(ctx, w.row.ID, err.Error()); serr != nil {
			return zero, serr
		}
		if serr := w.store.SetWorkflowStatus(ctx, w.row.ID, WorkflowFailed); serr != nil {
			return zero, serr
		}
		w.logger().workflowTerminal(w.opts.WorkflowID, WorkflowFailed, err)
		return zero, err
	}

	if serr := w.store.SetWorkflowStatus(ctx, w.row.ID, WorkflowCompleted); serr != nil {
		return zero, serr
	}
	w.logger().workflowTerminal(w.opts.WorkflowID, WorkflowCompleted, nil)
	return result, nil
}
