package orchwf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoStep(ctx context.Context, payload string) (string, error) {
	return payload, nil
}

// TestWorkstepSuccessOnFirstAttempt covers boundary scenario 1 from spec.md §8.
func TestWorkstepSuccessOnFirstAttempt(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateManager()
	ws := NewWorkstep(echoStep, WorkstepOptions{
		StepID:      "Demo.Echo",
		RetryPolicy: NewLinearRetryPolicy(3, time.Second),
		Store:       store,
	})

	start := time.Now()
	result, err := ws.Run(ctx, "ok")
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Less(t, elapsed, 100*time.Millisecond)

	rows, err := store.ListWorkstepInstancesByStepID(ctx, "Demo.Echo")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptNumber)
	assert.Equal(t, WorkstepCompleted, rows[0].Status)
	assert.Equal(t, `"ok"`, string(rows[0].ResultData))

	lifecycle, err := store.ListWorkstepLifecycle(ctx, rows[0].ID)
	require.NoError(t, err)
	require.Len(t, lifecycle, 2)
	assert.Equal(t, WorkstepInstantiated, lifecycle[0].FromState)
	assert.Equal(t, WorkstepRunning, lifecycle[0].ToState)
	assert.Equal(t, WorkstepRunning, lifecycle[1].FromState)
	assert.Equal(t, WorkstepCompleted, lifecycle[1].ToState)
}

// TestWorkstepRetryThenSuccess covers boundary scenario 2.
func TestWorkstepRetryThenSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateManager()
	calls := 0
	fn := func(ctx context.Context, payload string) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("network blip"))
		}
		return "done", nil
	}
	ws := NewWorkstep(fn, WorkstepOptions{
		StepID:      "Demo.Flaky",
		RetryPolicy: NewLinearRetryPolicy(3, 100*time.Millisecond),
		Store:       store,
	})

	start := time.Now()
	result, err := ws.Run(ctx, "x")
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)

	rows, err := store.ListWorkstepInstancesByStepID(ctx, "Demo.Flaky")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].AttemptNumber)
	assert.Equal(t, WorkstepCompleted, rows[0].Status)
	// error_message is left stale from the last failed attempt, not cleared on success.
	require.NotNil(t, rows[0].ErrorMessage)
	assert.Contains(t, *rows[0].ErrorMessage, "network blip")
}

// TestWorkstepExcludedErrorBypassesRetry covers boundary scenario 3.
func TestWorkstepExcludedErrorBypassesRetry(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateManager()
	calls := 0
	fn := func(ctx context.Context, payload string) (string, error) {
		calls++
		return "", NewBadInputError(errors.New("malformed"))
	}
	ws := NewWorkstep(fn, WorkstepOptions{
		StepID:      "Demo.BadInput",
		RetryPolicy: NewLinearRetryPolicy(5, 10*time.Millisecond),
		Store:       store,
	})

	start := time.Now()
	_, err := ws.Run(ctx, "x")
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, elapsed, 50*time.Millisecond)

	rows, err2 := store.ListWorkstepInstancesByStepID(ctx, "Demo.BadInput")
	require.NoError(t, err2)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptNumber)
	assert.Equal(t, WorkstepFailed, rows[0].Status)

	lifecycle, err2 := store.ListWorkstepLifecycle(ctx, rows[0].ID)
	require.NoError(t, err2)
	failedEdges := 0
	for _, l := range lifecycle {
		if l.ToState == WorkstepFailed {
			failedEdges++
		}
	}
	assert.Equal(t, 1, failedEdges)
}

// TestWorkstepExhaustion covers boundary scenario 4.
func TestWorkstepExhaustion(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateManager()
	fn := func(ctx context.Context, payload string) (string, error) {
		return "", NewTransientError(errors.New("down"))
	}
	ws := NewWorkstep(fn, WorkstepOptions{
		StepID:      "Demo.AlwaysDown",
		RetryPolicy: NewExponentialRetryPolicy(2, 100*time.Millisecond, time.Second),
		Store:       store,
	})

	start := time.Now()
	_, err := ws.Run(ctx, "x")
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)

	rows, err2 := store.ListWorkstepInstancesByStepID(ctx, "Demo.AlwaysDown")
	require.NoError(t, err2)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].AttemptNumber)
	assert.Equal(t, WorkstepFailed, rows[0].Status)
}

// TestWorkstepPolicyPrecedence covers boundary scenario 5: an explicit
// per-workstep policy always wins, even inside an ambient workflow context
// that carries a different one.
func TestWorkstepPolicyPrecedence(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateManager()

	wi := &WorkflowInstance{WorkflowID: "wf", Status: WorkflowInstantiated}
	require.NoError(t, store.CreateWorkflowInstance(ctx, wi))
	ambientCtx := WithExecutionContext(ctx, &ExecutionContext{
		WorkflowInstance: wi,
		Store:            store,
		RetryPolicy:      NewExponentialRetryPolicy(2, 10*time.Millisecond, time.Second),
	})

	explicit := NewConditionalRetryPolicy(3, 10*time.Millisecond)
	ws := NewWorkstep(echoStep, WorkstepOptions{
		StepID:      "Demo.Precedence",
		RetryPolicy: explicit,
	})

	_, err := ws.Run(ambientCtx, "ok")
	require.NoError(t, err)

	rows, err2 := store.ListWorkstepInstancesByStepID(ctx, "Demo.Precedence")
	require.NoError(t, err2)
	require.Len(t, rows, 1)
	assert.Equal(t, explicit.Retries(), rows[0].MaxRetries)
}

// TestAsyncWorkstepYieldsDuringRetryDelay covers boundary scenario 7: the
// engine must not block other goroutines while a retry sleep is in flight.
func TestAsyncWorkstepYieldsDuringRetryDelay(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateManager()
	calls := 0
	fn := func(ctx context.Context, payload string) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("blip"))
		}
		return "done", nil
	}
	ws := NewAsyncWorkstep(fn, WorkstepOptions{
		StepID:      "Demo.AsyncFlaky",
		RetryPolicy: NewLinearRetryPolicy(2, 150*time.Millisecond),
		Store:       store,
	})

	future, err := ws.RunAsync(ctx, "x")
	require.NoError(t, err)

	progressed := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			time.Sleep(10 * time.Millisecond)
			progressed = true
		}
	}()
	<-done
	assert.True(t, progressed, "cooperative goroutine should make progress while the workstep sleeps")

	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestWorkstepRunWithoutStoreFails(t *testing.T) {
	ws := NewWorkstep(echoStep, WorkstepOptions{StepID: "Demo.NoStore"})
	_, err := ws.Run(context.Background(), "x")
	assert.Error(t, err)
}
