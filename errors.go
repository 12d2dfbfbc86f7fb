package orchwf

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry-policy purposes. Unlike Python exception
// hierarchies, Go errors carry no inherent "kind" - ClassifiedError attaches one
// explicitly so policies can match on it without reflecting on concrete types.
type Kind string

const (
	// KindBadInput marks an error as caused by invalid input. It is always
	// excluded from retry by every built-in RetryPolicy.
	KindBadInput Kind = "bad_input"
	// KindTransient marks an error as likely to succeed on retry (network
	// blips, timeouts, temporary unavailability).
	KindTransient Kind = "transient"
	// KindPermanent marks an error that retrying will not fix. Like
	// KindBadInput, it is always excluded from retry by every built-in
	// RetryPolicy.
	KindPermanent Kind = "permanent"
)

// ClassifiedError pairs an error with a Kind used by retry policies.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewBadInputError wraps err as a KindBadInput error - always excluded from retry.
func NewBadInputError(err error) error {
	return &ClassifiedError{Kind: KindBadInput, Err: err}
}

// NewTransientError wraps err as a KindTransient error.
func NewTransientError(err error) error {
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

// NewPermanentError wraps err as a KindPermanent error - always excluded from
// retry by every built-in RetryPolicy, the same as KindBadInput.
func NewPermanentError(err error) error {
	return &ClassifiedError{Kind: KindPermanent, Err: err}
}

// ErrorKind returns the Kind attached to err via ClassifiedError, or "" if err
// (or anything it wraps) was never classified.
func ErrorKind(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// ErrIllegalTransition is returned by the status-setting primitive when asked
// to move an instance through an edge absent from its transition graph. This
// is always a programming error and must never be swallowed.
type ErrIllegalTransition struct {
	Entity string
	From   string
	To     string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("orchwf: illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

// ErrNotFound is returned by StateManager lookups for a missing row.
var ErrNotFound = errors.New("orchwf: not found")
