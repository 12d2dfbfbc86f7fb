package orchwf

import "context"

// ExecutionContext is the ambient value a running Workflow installs on the
// context.Context it hands to user orchestration code. Nested Worksteps read
// it (via CurrentContext) to discover the enclosing workflow instance, the
// StateManager to persist against, and the retry policy to inherit.
//
// Unlike a thread-local, this lives entirely on the context.Context value -
// there is no global mutable cell, so concurrent goroutines (as used by async
// Worksteps) can never corrupt each other's context.
type ExecutionContext struct {
	WorkflowInstance *WorkflowInstance
	Store            StateManager
	RetryPolicy      RetryPolicy
}

type executionContextKey struct{}

// WithExecutionContext returns a context.Context carrying ec as the ambient
// execution context.
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ec)
}

// CurrentContext returns the ambient ExecutionContext carried on ctx, if any.
func CurrentContext(ctx context.Context) (*ExecutionContext, bool) {
	ec, ok := ctx.Value(executionContextKey{}).(*ExecutionContext)
	return ec, ok
}

// HasRetryPolicy is implemented by a workflow receiver that carries an
// instance-level retry policy, the second rung of the precedence ladder in
// policy resolution (explicit workstep policy > instance policy > ambient
// workflow policy > default).
type HasRetryPolicy interface {
	InstanceRetryPolicy() RetryPolicy
}

// resolveRetryPolicy implements the four-level precedence from spec §4.4.
func resolveRetryPolicy(explicit RetryPolicy, instance HasRetryPolicy, ctx context.Context) RetryPolicy {
	if explicit != nil {
		return explicit
	}
	if instance != nil {
		if p := instance.InstanceRetryPolicy(); p != nil {
			return p
		}
	}
	if ec, ok := CurrentContext(ctx); ok && ec.RetryPolicy != nil {
		return ec.RetryPolicy
	}
	return NewLinearRetryPolicy(0, 0)
}
