package compensation

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// OperationLog is the ordered list of operations applied in one unit of
// work. It never outlives that unit of work.
type OperationLog struct {
	mu      sync.Mutex
	applied []Operation
	handler ErrorHandler
}

func newOperationLog(h ErrorHandler) *OperationLog {
	return &OperationLog{handler: h}
}

func (l *OperationLog) RecordApplied(op Operation) {
	l.mu.Lock()
	l.applied = append(l.applied, op)
	l.mu.Unlock()
}

// AppliedOperations returns a copy; changing it does not change the log.
func (l *OperationLog) AppliedOperations() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Operation(nil), l.applied...)
}

// ClassifyFailure asks the policy about op, which failed with err. op is
// not recorded.
func (l *OperationLog) ClassifyFailure(ctx context.Context, op Operation, err error) Verdict {
	return l.handler.OnFailure(ctx, FailureContext{
		FailedOperation:   op,
		Err:               err,
		AppliedOperations: l.AppliedOperations(),
	})
}

// logKey is the uow.Scope key the log is stored under.
type logKey struct{}

// policyKey is the uow.Scope key a Lifecycle registers its handler under.
type policyKey struct{}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}
