package orchwf

import (
	"context"
	"time"
)

// WorkstepSummary is one workstep's contribution to a WorkflowSummary.
type WorkstepSummary struct {
	StepID        string
	StepName      string
	Status        WorkstepStatus
	AttemptNumber int
	ErrorMessage  *string
}

// WorkflowSummary reports a workflow instance's overall status, duration,
// and the status/attempt count of each of its worksteps.
type WorkflowSummary struct {
	WorkflowInstanceID int64
	WorkflowID         string
	Status             WorkflowStatus
	StartTime          time.Time
	EndTime            *time.Time
	Duration           time.Duration
	Worksteps          []WorkstepSummary
}

// SummarizeWorkflow builds a WorkflowSummary for the given workflow
// instance id.
func SummarizeWorkflow(ctx context.Context, store StateManager, workflowInstanceID int64) (*WorkflowSummary, error) {
	wi, err := store.GetWorkflowInstance(ctx, workflowInstanceID)
	if err != nil {
		return nil, err
	}
	steps, err := store.ListWorkstepInstancesForWorkflow(ctx, workflowInstanceID)
	if err != nil {
		return nil, err
	}

	summary := &WorkflowSummary{
		WorkflowInstanceID: wi.ID,
		WorkflowID:         wi.WorkflowID,
		Status:             wi.Status,
		StartTime:          wi.StartTime,
		EndTime:            wi.EndTime,
	}
	if wi.EndTime != nil {
		summary.Duration = wi.EndTime.Sub(wi.StartTime)
	} else {
		summary.Duration = time.Since(wi.StartTime)
	}
	for _, s := range steps {
		summary.Worksteps = append(summary.Worksteps, WorkstepSummary{
			StepID:        s.StepID,
			StepName:      s.StepName,
			Status:        s.Status,
			AttemptNumber: s.AttemptNumber,
			ErrorMessage:  s.ErrorMessage,
		})
	}
	return summary, nil
}

// StepHistory returns every recorded execution of the given business-level
// step id, across all workflow instances, most recent first.
func StepHistory(ctx context.Context, store StateManager, stepID string) ([]*WorkstepInstance, error) {
	steps, err := store.ListWorkstepInstancesByStepID(ctx, stepID)
	if err != nil {
		return nil, err
	}
	sorted := make([]*WorkstepInstance, len(steps))
	copy(sorted, steps)
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted, nil
}

// RetentionSweep deletes workflow instances (and their cascaded worksteps
// and lifecycle journals) older than maxAge, returning the count removed.
func RetentionSweep(ctx context.Context, store StateManager, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	return store.RetentionSweep(ctx, cutoff)
}
