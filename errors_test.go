package orchwf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifiedErrorWraps(t *testing.T) {
	cause := errors.New("boom")
	err := NewTransientError(cause)

	assert.Equal(t, KindTransient, ErrorKind(err))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "boom")
}

func TestErrorKindUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), ErrorKind(errors.New("plain")))
}

func TestErrIllegalTransitionMessage(t *testing.T) {
	err := &ErrIllegalTransition{Entity: "workflow", From: "Completed", To: "Running"}
	assert.Contains(t, err.Error(), "workflow")
	assert.Contains(t, err.Error(), "Completed")
	assert.Contains(t, err.Error(), "Running")
}
