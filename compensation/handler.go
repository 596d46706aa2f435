package compensation

import (
	"context"
	"log/slog"
)

// Verdict is a policy's answer to a failed operation.
type Verdict int

const (
	// Abort lets the original error reach the caller.
	Abort Verdict = iota
	// Continue drops the error; the call returns as if it had no effect.
	Continue
)

func (v Verdict) String() string {
	switch v {
	case Abort:
		return "abort"
	case Continue:
		return "continue"
	default:
		return "unknown"
	}
}

// FailureContext describes a failed operation. AppliedOperations lists what
// succeeded earlier in the same unit of work and excludes the failure.
type FailureContext struct {
	FailedOperation   Operation
	Err               error
	AppliedOperations []Operation
}

// RollbackContext carries everything applied in a unit of work that ended
// unsuccessfully.
type RollbackContext struct {
	AppliedOperations []Operation
}

// ErrorHandler is the application's failure policy. Implementations must
// not panic; an error from OnRollback surfaces from the unit of work's
// Commit, Rollback or Complete.
type ErrorHandler interface {
	OnFailure(ctx context.Context, fc FailureContext) Verdict
	OnRollback(ctx context.Context, rc RollbackContext) error
}

// HandlerFuncs adapts plain functions. A nil Failure aborts; a nil Rollback
// does nothing.
type HandlerFuncs struct {
	Failure  func(ctx context.Context, fc FailureContext) Verdict
	Rollback func(ctx context.Context, rc RollbackContext) error
}

var _ ErrorHandler = HandlerFuncs{}

func (h HandlerFuncs) OnFailure(ctx context.Context, fc FailureContext) Verdict {
	if h.Failure == nil {
		return Abort
	}
	return h.Failure(ctx, fc)
}

func (h HandlerFuncs) OnRollback(ctx context.Context, rc RollbackContext) error {
	if h.Rollback == nil {
		return nil
	}
	return h.Rollback(ctx, rc)
}

// LoggingHandler logs failures and rollbacks and answers every failure with
// the same verdict.
type LoggingHandler struct {
	log     *slog.Logger
	verdict Verdict
}

func NewLoggingHandler(l *slog.Logger, verdict Verdict) *LoggingHandler {
	if l == nil {
		l = defaultLogger()
	}
	return &LoggingHandler{log: l, verdict: verdict}
}

var _ ErrorHandler = (*LoggingHandler)(nil)

func (h *LoggingHandler) OnFailure(ctx context.Context, fc FailureContext) Verdict {
	h.log.WarnContext(ctx, "operation failed",
		slog.String("operation", fc.FailedOperation.String()),
		slog.Any("error", fc.Err),
		slog.Int("applied", len(fc.AppliedOperations)),
		slog.String("verdict", h.verdict.String()),
	)
	return h.verdict
}

func (h *LoggingHandler) OnRollback(ctx context.Context, rc RollbackContext) error {
	ops := make([]string, len(rc.AppliedOperations))
	for i, op := range rc.AppliedOperations {
		ops[i] = op.String()
	}
	h.log.WarnContext(ctx, "unit of work rolled back",
		slog.Any("applied", ops),
	)
	return nil
}
