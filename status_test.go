package orchwf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowTransitions(t *testing.T) {
	assert.True(t, IsValidWorkflowTransition(WorkflowInstantiated, WorkflowRunning))
	assert.True(t, IsValidWorkflowTransition(WorkflowRunning, WorkflowCompleted))
	assert.True(t, IsValidWorkflowTransition(WorkflowRunning, WorkflowFailed))
	assert.True(t, IsValidWorkflowTransition(WorkflowFailed, WorkflowRunning))
	assert.True(t, IsValidWorkflowTransition(WorkflowRunning, WorkflowRunning))

	assert.False(t, IsValidWorkflowTransition(WorkflowInstantiated, WorkflowCompleted))
	assert.False(t, IsValidWorkflowTransition(WorkflowCompleted, WorkflowRunning))
	assert.False(t, IsValidWorkflowTransition(WorkflowCancelled, WorkflowRunning))
}

func TestWorkflowTerminal(t *testing.T) {
	assert.True(t, IsWorkflowTerminal(WorkflowCompleted))
	assert.True(t, IsWorkflowTerminal(WorkflowCancelled))
	assert.False(t, IsWorkflowTerminal(WorkflowRunning))
	assert.False(t, IsWorkflowTerminal(WorkflowFailed))
}

func TestParseWorkflowStatus(t *testing.T) {
	s, ok := ParseWorkflowStatus("Running")
	assert.True(t, ok)
	assert.Equal(t, WorkflowRunning, s)

	_, ok = ParseWorkflowStatus("bogus")
	assert.False(t, ok)
}

func TestWorkstepTransitions(t *testing.T) {
	assert.True(t, IsValidWorkstepTransition(WorkstepInstantiated, WorkstepRunning))
	assert.True(t, IsValidWorkstepTransition(WorkstepRunning, WorkstepFailed))
	assert.True(t, IsValidWorkstepTransition(WorkstepFailed, WorkstepRunning))
	assert.True(t, IsValidWorkstepTransition(WorkstepRunning, WorkstepPendingCompletion))
	assert.True(t, IsValidWorkstepTransition(WorkstepPendingCompletion, WorkstepCompleted))

	assert.False(t, IsValidWorkstepTransition(WorkstepCompleted, WorkstepRunning))
	assert.False(t, IsValidWorkstepTransition(WorkstepInstantiated, WorkstepCompleted))
}

func TestWorkstepTerminal(t *testing.T) {
	assert.True(t, IsWorkstepTerminal(WorkstepCompleted))
	assert.True(t, IsWorkstepTerminal(WorkstepCancelled))
	assert.False(t, IsWorkstepTerminal(WorkstepWaiting))
}

func TestParseWorkstepStatus(t *testing.T) {
	s, ok := ParseWorkstepStatus("Pending Completion")
	assert.True(t, ok)
	assert.Equal(t, WorkstepPendingCompletion, s)

	_, ok = ParseWorkstepStatus("")
	assert.False(t, ok)
}
