package orchwf

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type threeStepData struct{}

// TestWorkflowFailurePropagation covers boundary scenario 6: a three-workstep
// orchestration where the second workstep fails permanently must halt before
// the third ever runs, leaving exactly two workstep rows behind.
func TestWorkflowFailurePropagation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateManager()

	orchestrate := func(ctx context.Context, data threeStepData) (string, error) {
		first := NewWorkstep(func(ctx context.Context, payload string) (string, error) {
			return "first-ok", nil
		}, WorkstepOptions{StepID: "Demo.First", RetryPolicy: NewLinearRetryPolicy(1, 0)})
		if _, err := first.Run(ctx, "in"); err != nil {
			return "", err
		}

		second := NewWorkstep(func(ctx context.Context, payload string) (string, error) {
			return "", NewBadInputError(errors.New("second step rejects input"))
		}, WorkstepOptions{StepID: "Demo.Second", RetryPolicy: NewLinearRetryPolicy(1, 0)})
		if _, err := second.Run(ctx, "in"); err != nil {
			return "", err
		}

		third := NewWorkstep(func(ctx context.Context, payload string) (string, error) {
			return "third-ok", nil
		}, WorkstepOptions{StepID: "Demo.Third", RetryPolicy: NewLinearRetryPolicy(1, 0)})
		return third.Run(ctx, "in")
	}

	wf, err := NewWorkflow(ctx, store, orchestrate, threeStepData{}, WorkflowOptions{
		WorkflowID:   "Demo.ThreeStep",
		WorkflowName: "ThreeStep",
	})
	require.NoError(t, err)

	_, err = wf.Execute(ctx)
	require.Error(t, err)

	wi, err := store.GetWorkflowInstance(ctx, wf.InstanceID())
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, wi.Status)
	assert.NotNil(t, wi.EndTime, "a failed workflow must still get an end_time")

	lifecycle, err := store.ListWorkflowLifecycle(ctx, wf.InstanceID())
	require.NoError(t, err)
	require.Len(t, lifecycle, 2)
	assert.Equal(t, WorkflowInstantiated, lifecycle[0].FromState)
	assert.Equal(t, WorkflowRunning, lifecycle[0].ToState)
	assert.Equal(t, WorkflowRunning, lifecycle[1].FromState)
	assert.Equal(t, WorkflowFailed, lifecycle[1].ToState)

	steps, err := store.ListWorkstepInstancesForWorkflow(ctx, wf.InstanceID())
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "Demo.First", steps[0].StepID)
	assert.Equal(t, WorkstepCompleted, steps[0].Status)
	assert.Equal(t, "Demo.Second", steps[1].StepID)
	assert.Equal(t, WorkstepFailed, steps[1].Status)
	assert.NotNil(t, steps[1].EndTime, "a failed workstep must still get an end_time")
}

type policyCarryingData struct {
	policy RetryPolicy
}

func (d policyCarryingData) InstanceRetryPolicy() RetryPolicy { return d.policy }

func TestNewWorkflowResolvesInstancePolicyFromData(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateManager()
	instancePolicy := NewLinearRetryPolicy(9, 0)

	fn := func(ctx context.Context, data policyCarryingData) (string, error) {
		ec, ok := CurrentContext(ctx)
		require.True(t, ok)
		assert.Same(t, instancePolicy, ec.RetryPolicy)
		return "ok", nil
	}

	wf, err := NewWorkflow(ctx, store, fn, policyCarryingData{policy: instancePolicy}, WorkflowOptions{
		WorkflowID:   "Demo.Policy",
		WorkflowName: "Policy",
		RetryPolicy:  NewExponentialRetryPolicy(2, 0, 0),
	})
	require.NoError(t, err)

	_, err = wf.Execute(ctx)
	require.NoError(t, err)
}
