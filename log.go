package orchwf

import (
	"time"

	"go.uber.org/zap"
)

// Logger wraps a *zap.Logger with the attempt/retry/terminal log lines
// runners emit. A nil *Logger is valid and logs nothing, so callers that
// never configure one pay no cost.
type Logger struct {
	z *zap.Logger
}

// NewLogger wraps z. Passing nil is equivalent to NewNopLogger().
func NewLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) logger() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

func (l *Logger) workstepAttempt(stepID string, attempt, maxRetries int) {
	l.logger().Debug("workstep attempt",
		zap.String("step_id", stepID),
		zap.Int("attempt", attempt),
		zap.Int("max_retries", maxRetries))
}

func (l *Logger) workstepRetry(stepID string, attempt int, delay time.Duration, cause error) {
	l.logger().Warn("workstep retrying",
		zap.String("step_id", stepID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
}

func (l *Logger) workstepTerminal(stepID string, status WorkstepStatus, attempt int, err error) {
	if err != nil {
		l.logger().Error("workstep failed",
			zap.String("step_id", stepID),
			zap.String("status", string(status)),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return
	}
	l.logger().Info("workstep completed",
		zap.String("step_id", stepID),
		zap.String("status", string(status)),
		zap.Int("attempts", attempt))
}

func (l *Logger) workflowTerminal(workflowID string, status WorkflowStatus, err error) {
	if err != nil {
		l.logger().Error("workflow failed",
			zap.String("workflow_id", workflowID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	l.logger().Info("workflow completed",
		zap.String("workflow_id", workflowID),
		zap.String("status", string(status)))
}
