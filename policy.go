package orchwf

import (
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy decides how long to wait between attempts and whether a given
// attempt should be retried at all. Built-in variants: LinearRetryPolicy,
// ExponentialRetryPolicy, ExponentialJitterRetryPolicy, ConditionalRetryPolicy.
type RetryPolicy interface {
	// ShouldRetry reports whether attempt (1-based, the attempt that just
	// failed with err) should be followed by another.
	ShouldRetry(attempt int, err error) bool
	// GetDelay returns how long to wait before the next attempt.
	GetDelay(attempt int) time.Duration
	// Retries returns the configured maximum number of retries.
	Retries() int
	// Base returns the configured base delay.
	Base() time.Duration
}

const defaultMaxRetries = 3
const defaultBaseDelay = 1 * time.Second
const defaultMaxDelay = 60 * time.Second

// baseRetryPolicy holds the fields and exclusion semantics shared by Linear,
// Exponential, and ExponentialJitter: KindBadInput and KindPermanent are
// always excluded, and ShouldRetry returns false whenever the error's Kind
// appears in Exclude.
type baseRetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Exclude    []Kind
}

func newBaseRetryPolicy(maxRetries int, baseDelay time.Duration, exclude []Kind) baseRetryPolicy {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	all := append([]Kind{KindBadInput, KindPermanent}, exclude...)
	return baseRetryPolicy{MaxRetries: maxRetries, BaseDelay: baseDelay, Exclude: all}
}

func (p baseRetryPolicy) Retries() int          { return p.MaxRetries }
func (p baseRetryPolicy) Base() time.Duration   { return p.BaseDelay }
func (p baseRetryPolicy) excluded(err error) bool {
	kind := ErrorKind(err)
	if kind == "" {
		return false
	}
	for _, k := range p.Exclude {
		if k == kind {
			return true
		}
	}
	return false
}

func (p baseRetryPolicy) shouldRetry(attempt int, err error) bool {
	if p.excluded(err) {
		return false
	}
	return attempt <= p.MaxRetries
}

// LinearRetryPolicy: delay = BaseDelay * attempt.
type LinearRetryPolicy struct {
	baseRetryPolicy
}

// NewLinearRetryPolicy builds a LinearRetryPolicy. maxRetries<=0 defaults to 3,
// baseDelay<=0 defaults to 1s. exclude is appended to the always-excluded
// KindBadInput and KindPermanent.
func NewLinearRetryPolicy(maxRetries int, baseDelay time.Duration, exclude ...Kind) *LinearRetryPolicy {
	return &LinearRetryPolicy{newBaseRetryPolicy(maxRetries, baseDelay, exclude)}
}

func (p *LinearRetryPolicy) ShouldRetry(attempt int, err error) bool { return p.shouldRetry(attempt, err) }

func (p *LinearRetryPolicy) GetDelay(attempt int) time.Duration {
	return time.Duration(int64(p.BaseDelay) * int64(attempt))
}

// ExponentialRetryPolicy: delay = min(BaseDelay * 2^(attempt-1), MaxDelay).
type ExponentialRetryPolicy struct {
	baseRetryPolicy
	MaxDelay time.Duration
}

// NewExponentialRetryPolicy builds an ExponentialRetryPolicy. maxDelay<=0
// defaults to 60s.
func NewExponentialRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration, exclude ...Kind) *ExponentialRetryPolicy {
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	return &ExponentialRetryPolicy{newBaseRetryPolicy(maxRetries, baseDelay, exclude), maxDelay}
}

func (p *ExponentialRetryPolicy) ShouldRetry(attempt int, err error) bool {
	return p.shouldRetry(attempt, err)
}

func (p *ExponentialRetryPolicy) GetDelay(attempt int) time.Duration {
	delay := exponentialDelay(p.BaseDelay, attempt)
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func exponentialDelay(base time.Duration, attempt int) time.Duration {
	mult := int64(1)
	for i := 1; i < attempt; i++ {
		mult *= 2
	}
	return time.Duration(int64(base) * mult)
}

// ExponentialJitterRetryPolicy: exponential-capped delay, plus uniform noise
// in +-25% of that value, floored at 100ms.
type ExponentialJitterRetryPolicy struct {
	ExponentialRetryPolicy
}

// NewExponentialJitterRetryPolicy builds an ExponentialJitterRetryPolicy.
func NewExponentialJitterRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration, exclude ...Kind) *ExponentialJitterRetryPolicy {
	return &ExponentialJitterRetryPolicy{*NewExponentialRetryPolicy(maxRetries, baseDelay, maxDelay, exclude...)}
}

func (p *ExponentialJitterRetryPolicy) ShouldRetry(attempt int, err error) bool {
	return p.shouldRetry(attempt, err)
}

func (p *ExponentialJitterRetryPolicy) GetDelay(attempt int) time.Duration {
	base := p.ExponentialRetryPolicy.GetDelay(attempt)
	jitter := float64(base) * 0.25 * (2*rand.Float64() - 1)
	delay := time.Duration(float64(base) + jitter)
	if delay < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return delay
}

// ConditionalRetryPolicy retries only when the error matches one of
// RetryableTargets via errors.Is (wrap/subtype aware), inverting the
// exclusion-list semantics of the other built-in policies.
type ConditionalRetryPolicy struct {
	MaxRetries       int
	BaseDelay        time.Duration
	RetryableTargets []error
}

// NewConditionalRetryPolicy builds a ConditionalRetryPolicy. An empty
// retryableTargets list means "retry on anything" (attempt count permitting).
func NewConditionalRetryPolicy(maxRetries int, baseDelay time.Duration, retryableTargets ...error) *ConditionalRetryPolicy {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &ConditionalRetryPolicy{MaxRetries: maxRetries, BaseDelay: baseDelay, RetryableTargets: retryableTargets}
}

func (p *ConditionalRetryPolicy) Retries() int        { return p.MaxRetries }
func (p *ConditionalRetryPolicy) Base() time.Duration { return p.BaseDelay }

func (p *ConditionalRetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt > p.MaxRetries {
		return false
	}
	if len(p.RetryableTargets) == 0 {
		return true
	}
	for _, target := range p.RetryableTargets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (p *ConditionalRetryPolicy) GetDelay(attempt int) time.Duration {
	return p.BaseDelay
}
