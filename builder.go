package orchwf

import "time"

// retryPolicyKind selects which concrete RetryPolicy RetryPolicyBuilder.Build
// constructs.
type retryPolicyKind int

const (
	retryKindLinear retryPolicyKind = iota
	retryKindExponential
	retryKindExponentialJitter
	retryKindConditional
)

// RetryPolicyBuilder assembles one of the built-in RetryPolicy
// implementations fluently, mirroring the teacher's builder style.
type RetryPolicyBuilder struct {
	kind             retryPolicyKind
	maxRetries       int
	baseDelay        time.Duration
	maxDelay         time.Duration
	exclude          []Kind
	retryableTargets []error
}

// NewRetryPolicyBuilder starts from Linear with default retry/delay values.
func NewRetryPolicyBuilder() *RetryPolicyBuilder {
	return &RetryPolicyBuilder{
		kind:       retryKindLinear,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
}

// Linear selects the linear backoff variant (the default).
func (b *RetryPolicyBuilder) Linear() *RetryPolicyBuilder { b.kind = retryKindLinear; return b }

// Exponential selects the capped exponential-backoff variant.
func (b *RetryPolicyBuilder) Exponential() *RetryPolicyBuilder {
	b.kind = retryKindExponential
	return b
}

// ExponentialJitter selects the exponential-with-jitter variant.
func (b *RetryPolicyBuilder) ExponentialJitter() *RetryPolicyBuilder {
	b.kind = retryKindExponentialJitter
	return b
}

// Conditional selects the conditional variant, retrying only on errors
// matching one of targets via errors.Is.
func (b *RetryPolicyBuilder) Conditional(targets ...error) *RetryPolicyBuilder {
	b.kind = retryKindConditional
	b.retryableTargets = targets
	return b
}

func (b *RetryPolicyBuilder) WithMaxRetries(n int) *RetryPolicyBuilder { b.maxRetries = n; return b }

func (b *RetryPolicyBuilder) WithBaseDelay(d time.Duration) *RetryPolicyBuilder {
	b.baseDelay = d
	return b
}

func (b *RetryPolicyBuilder) WithMaxDelay(d time.Duration) *RetryPolicyBuilder {
	b.maxDelay = d
	return b
}

// WithExclude adds Kinds (beyond the always-excluded KindBadInput and
// KindPermanent) that
// Linear/Exponential/ExponentialJitter should never retry.
func (b *RetryPolicyBuilder) WithExclude(kinds ...Kind) *RetryPolicyBuilder {
	b.exclude = kinds
	return b
}

// Build returns the configured RetryPolicy.
func (b *RetryPolicyBuilder) Build() RetryPolicy {
	switch b.kind {
	case retryKindExponential:
		return NewExponentialRetryPolicy(b.maxRetries, b.baseDelay, b.maxDelay, b.exclude...)
	case retryKindExponentialJitter:
		return NewExponentialJitterRetryPolicy(b.maxRetries, b.baseDelay, b.maxDelay, b.exclude...)
	case retryKindConditional:
		return NewConditionalRetryPolicy(b.maxRetries, b.baseDelay, b.retryableTargets...)
	default:
		return NewLinearRetryPolicy(b.maxRetries, b.baseDelay, b.exclude...)
	}
}

// WorkflowOptionsBuilder assembles a WorkflowOptions fluently.
type WorkflowOptionsBuilder struct {
	opts WorkflowOptions
}

func NewWorkflowOptionsBuilder() *WorkflowOptionsBuilder {
	return &WorkflowOptionsBuilder{}
}

func (b *WorkflowOptionsBuilder) WithWorkflowID(id string) *WorkflowOptionsBuilder {
	b.opts.WorkflowID = id
	return b
}

func (b *WorkflowOptionsBuilder) WithWorkflowName(name string) *WorkflowOptionsBuilder {
	b.opts.WorkflowName = name
	return b
}

func (b *WorkflowOptionsBuilder) WithRetryPolicy(policy RetryPolicy) *WorkflowOptionsBuilder {
	b.opts.RetryPolicy = policy
	return b
}

func (b *WorkflowOptionsBuilder) WithLogger(logger *Logger) *WorkflowOptionsBuilder {
	b.opts.Logger = logger
	return b
}

func (b *WorkflowOptionsBuilder) Build() WorkflowOptions { return b.opts }

// WorkstepOptionsBuilder assembles a WorkstepOptions fluently.
type WorkstepOptionsBuilder struct {
	opts WorkstepOptions
}

func NewWorkstepOptionsBuilder() *WorkstepOptionsBuilder {
	return &WorkstepOptionsBuilder{}
}

func (b *WorkstepOptionsBuilder) WithStepID(id string) *WorkstepOptionsBuilder {
	b.opts.StepID = id
	return b
}

func (b *WorkstepOptionsBuilder) WithStepName(name string) *WorkstepOptionsBuilder {
	b.opts.StepName = name
	return b
}

func (b *WorkstepOptionsBuilder) WithBianSD(sd string) *WorkstepOptionsBuilder {
	b.opts.BianSD = sd
	return b
}

func (b *WorkstepOptionsBuilder) WithRetryPolicy(policy RetryPolicy) *WorkstepOptionsBuilder {
	b.opts.RetryPolicy = policy
	return b
}

func (b *WorkstepOptionsBuilder) WithPayload(payload map[string]interface{}) *WorkstepOptionsBuilder {
	b.opts.Payload = payload
	return b
}

func (b *WorkstepOptionsBuilder) WithStore(store StateManager) *WorkstepOptionsBuilder {
	b.opts.Store = store
	return b
}

func (b *WorkstepOptionsBuilder) WithLogger(logger *Logger) *WorkstepOptionsBuilder {
	b.opts.Logger = logger
	return b
}

func (b *WorkstepOptionsBuilder) Build() WorkstepOptions { return b.opts }
