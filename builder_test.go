package orchwf

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyBuilderVariants(t *testing.T) {
	linear := NewRetryPolicyBuilder().WithMaxRetries(4).WithBaseDelay(time.Second).Build()
	_, ok := linear.(*LinearRetryPolicy)
	assert.True(t, ok)

	jitter := NewRetryPolicyBuilder().ExponentialJitter().WithMaxRetries(2).WithMaxDelay(5 * time.Second).Build()
	_, ok = jitter.(*ExponentialJitterRetryPolicy)
	assert.True(t, ok)

	target := errors.New("retryable")
	conditional := NewRetryPolicyBuilder().Conditional(target).WithMaxRetries(2).Build()
	cp, ok := conditional.(*ConditionalRetryPolicy)
	assert.True(t, ok)
	assert.True(t, cp.ShouldRetry(1, target))
}

func TestRetryPolicyBuilderWithExclude(t *testing.T) {
	p := NewRetryPolicyBuilder().WithExclude(KindTransient).Build()
	assert.False(t, p.ShouldRetry(1, NewTransientError(errors.New("down"))))
}

func TestWorkflowOptionsBuilder(t *testing.T) {
	policy := NewLinearRetryPolicy(2, time.Second)
	opts := NewWorkflowOptionsBuilder().
		WithWorkflowID("Demo.WF").
		WithWorkflowName("Demo").
		WithRetryPolicy(policy).
		Build()

	assert.Equal(t, "Demo.WF", opts.WorkflowID)
	assert.Equal(t, "Demo", opts.WorkflowName)
	assert.Same(t, policy, opts.RetryPolicy)
}

func TestWorkstepOptionsBuilder(t *testing.T) {
	store := NewInMemoryStateManager()
	opts := NewWorkstepOptionsBuilder().
		WithStepID("Demo.Step").
		WithStepName("Step").
		WithBianSD("sd-123").
		WithPayload(map[string]interface{}{"k": "v"}).
		WithStore(store).
		Build()

	assert.Equal(t, "Demo.Step", opts.StepID)
	assert.Equal(t, "Step", opts.StepName)
	assert.Equal(t, "sd-123", opts.BianSD)
	assert.Equal(t, "v", opts.Payload["k"])
	assert.Same(t, store, opts.Store)
}
