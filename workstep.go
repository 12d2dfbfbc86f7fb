package orchwf

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"
)

// WorkstepFunc is the user function a Workstep wraps. ctx carries the
// ambient ExecutionContext when invoked from within a workflow.
type WorkstepFunc[P, R any] func(ctx context.Context, payload P) (R, error)

// WorkstepOptions configures a Workstep at construction time.
type WorkstepOptions struct {
	// StepID defaults to "<Type>.<Func>" derived from fn's runtime name.
	StepID string
	// StepName defaults to fn's bare function name.
	StepName string
	// BianSD is the opaque BIAN service-domain tag; defaults to "UNKNOWN?".
	BianSD string
	// RetryPolicy overrides whatever policy would otherwise be resolved
	// from the ambient workflow context.
	RetryPolicy RetryPolicy
	// Payload is static metadata merged under the dynamic per-call payload.
	Payload map[string]interface{}
	// Store is the StateManager to persist against when the workstep is
	// run outside any workflow ("standalone" mode, §4.4/§4.5).
	Store StateManager
	// Logger overrides the ambient/no-op logger.
	Logger *Logger
}

// Workstep is the retry-loop/lifecycle-journaling wrapper around one user
// function, shared by the sync (Run) and async (RunAsync) dispatch paths.
type Workstep[P, R any] struct {
	fn    WorkstepFunc[P, R]
	opts  WorkstepOptions
	async bool
}

// NewWorkstep wraps fn for blocking (Run) execution.
func NewWorkstep[P, R any](fn WorkstepFunc[P, R], opts WorkstepOptions) *Workstep[P, R] {
	return &Workstep[P, R]{fn: fn, opts: normalizeWorkstepOptions(fn, opts)}
}

// NewAsyncWorkstep wraps fn for goroutine-dispatched (RunAsync) execution.
// It shares the same attempt core as NewWorkstep; the only difference is
// which dispatch method callers are expected to use.
func NewAsyncWorkstep[P, R any](fn WorkstepFunc[P, R], opts WorkstepOptions) *Workstep[P, R] {
	w := NewWorkstep(fn, opts)
	w.async = true
	return w
}

func normalizeWorkstepOptions[P, R any](fn WorkstepFunc[P, R], opts WorkstepOptions) WorkstepOptions {
	if opts.BianSD == "" {
		opts.BianSD = "UNKNOWN?"
	}
	typeName, funcName := splitFuncName(fn)
	if opts.StepID == "" {
		opts.StepID = typeName + "." + funcName
	}
	if opts.StepName == "" {
		opts.StepName = funcName
	}
	return opts
}

// splitFuncName derives "<Type>.<Func>" from fn's runtime name, e.g.
// "github.com/x/y.(*Foo).Bar" -> ("Foo", "Bar"), "main.myFunc" -> ("main", "myFunc").
func splitFuncName(fn interface{}) (typeName, funcName string) {
	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	full = strings.TrimSuffix(full, "-fm")
	if idx := strings.LastIndex(full, "/"); idx >= 0 {
		full = full[idx+1:]
	}
	segs := strings.Split(full, ".")
	if len(segs) < 2 {
		return "", full
	}
	funcName = segs[len(segs)-1]
	typeName = segs[len(segs)-2]
	typeName = strings.TrimPrefix(strings.TrimSuffix(typeName, ")"), "(*")
	return typeName, funcName
}

func mergePayload(static map[string]interface{}, dynamic interface{}) json.RawMessage {
	dynRaw := marshalPayload(dynamic)
	if len(static) == 0 {
		return dynRaw
	}
	var dynMap map[string]interface{}
	if err := json.Unmarshal(dynRaw, &dynMap); err != nil || dynMap == nil {
		dynMap = map[string]interface{}{"payload": json.RawMessage(dynRaw)}
	}
	merged := make(map[string]interface{}, len(static)+len(dynMap))
	for k, v := range static {
		merged[k] = v
	}
	for k, v := range dynMap {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return dynRaw
	}
	return out
}

// resolveStep figures out which StateManager to persist against and which
// (possibly nil) workflow instance id to attach the new row to.
func (w *Workstep[P, R]) resolveStep(ctx context.Context) (StateManager, *int64) {
	if ec, ok := CurrentContext(ctx); ok {
		id := ec.WorkflowInstance.ID
		return ec.Store, &id
	}
	return w.opts.Store, nil
}

func (w *Workstep[P, R]) logger() *Logger {
	if w.opts.Logger != nil {
		return w.opts.Logger
	}
	return NewNopLogger()
}

// Run blocks until the workstep completes or exhausts its retry policy.
func (w *Workstep[P, R]) Run(ctx context.Context, payload P) (R, error) {
	var zero R
	store, wfID := w.resolveStep(ctx)
	if store == nil {
		return zero, fmt.Errorf("orchwf: workstep %q has no StateManager (not in a workflow and no Store configured)", w.opts.StepID)
	}
	policy := resolveRetryPolicy(w.opts.RetryPolicy, nil, ctx)
	row := &WorkstepInstance{
		WorkflowInstanceID: wfID,
		StepID:             w.opts.StepID,
		StepName:           w.opts.StepName,
		BianSD:             w.opts.BianSD,
		Status:             WorkstepInstantiated,
		MaxRetries:         policy.Retries(),
		RetryDelay:         int(policy.Base() / time.Second),
		PayloadData:        mergePayload(w.opts.Payload, payload),
	}
	if err := store.CreateWorkstepInstance(ctx, row); err != nil {
		return zero, err
	}
	return runAttempts(ctx, w.fn, payload, store, row.ID, policy, w.opts.StepID, w.logger(), sleepBlocking)
}

// Future is a single-value, single-buffered handle to an async Workstep's
// eventual result.
type Future[R any] struct {
	ch chan asyncResult[R]
}

type asyncResult[R any] struct {
	val R
	err error
}

// Wait blocks until the result arrives or ctx is done, whichever is first.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case r := <-f.ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// RunAsync spawns the attempt loop on a new goroutine and returns
// immediately with a Future the caller can Wait on.
func (w *Workstep[P, R]) RunAsync(ctx context.Context, payload P) (*Future[R], error) {
	store, wfID := w.resolveStep(ctx)
	if store == nil {
		return nil, fmt.Errorf("orchwf: workstep %q has no StateManager (not in a workflow and no Store configured)", w.opts.StepID)
	}
	policy := resolveRetryPolicy(w.opts.RetryPolicy, nil, ctx)
	row := &WorkstepInstance{
		WorkflowInstanceID: wfID,
		StepID:             w.opts.StepID,
		StepName:           w.opts.StepName,
		BianSD:             w.opts.BianSD,
		Status:             WorkstepInstantiated,
		MaxRetries:         policy.Retries(),
		RetryDelay:         int(policy.Base() / time.Second),
		PayloadData:        mergePayload(w.opts.Payload, payload),
	}
	if err := store.CreateWorkstepInstance(ctx, row); err != nil {
		return nil, err
	}
	future := &Future[R]{ch: make(chan asyncResult[R], 1)}
	go func() {
		val, err := runAttempts(ctx, w.fn, payload, store, row.ID, policy, w.opts.StepID, w.logger(), sleepCancellable)
		future.ch <- asyncResult[R]{val: val, err: err}
	}()
	return future, nil
}

func sleepBlocking(_ context.Context, d time.Duration) { time.Sleep(d) }

func sleepCancellable(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// runAttempts is the retry core shared by Run and RunAsync. Status stays
// RUNNING across retries (matching the original engine, which never
// transitions a step to FAILED until retries are exhausted); only
// error_message is overwritten on each failed attempt, and end_time is left
// unset until the terminal status transition.
func runAttempts[P, R any](
	ctx context.Context,
	fn WorkstepFunc[P, R],
	payload P,
	store StateManager,
	rowID int64,
	policy RetryPolicy,
	stepID string,
	logger *Logger,
	sleep func(context.Context, time.Duration),
) (R, error) {
	var zero R
	for attempt := 1; ; attempt++ {
		if err := store.BeginWorkstepAttempt(ctx, rowID, attempt); err != nil {
			return zero, err
		}
		logger.workstepAttempt(stepID, attempt, policy.Retries())

		result, err := fn(ctx, payload)
		if err == nil {
			if serr := store.SetWorkstepResult(ctx, rowID, serializeResult(result)); serr != nil {
				return zero, serr
			}
			if serr := store.SetWorkstepStatus(ctx, rowID, WorkstepCompleted); serr != nil {
				return zero, serr
			}
			logger.workstepTerminal(stepID, WorkstepCompleted, attempt, nil)
			return result, nil
		}

		if serr := store.SetWorkstepError(ctx, rowID, err.Error()); serr != nil {
			return zero, serr
		}
		if !policy.ShouldRetry(attempt, err) {
			if serr := store.SetWorkstepStatus(ctx, rowID, WorkstepFailed); serr != nil {
				return zero, serr
			}
			logger.workstepTerminal(stepID, WorkstepFailed, attempt, err)
			return zero, err
		}

		delay := policy.GetDelay(attempt)
		logger.workstepRetry(stepID, attempt, delay, err)
		sleep(ctx, delay)
		if ctx.Err() != nil {
			if serr := store.SetWorkstepStatus(ctx, rowID, WorkstepFailed); serr != nil {
				return zero, serr
			}
			logger.workstepTerminal(stepID, WorkstepFailed, attempt, ctx.Err())
			return zero, ctx.Err()
		}
	}
}
