package compensation

import (
	"context"
	"log/slog"

	"github.com/bootjp/elasticgrid/metrics"
	"github.com/bootjp/elasticgrid/uow"
	"github.com/cockroachdb/errors"
)

// Lifecycle decorates a coordinator so that each unit of work gets its own
// OperationLog. The log is created on the first Pulse, since some units of
// work are coordinated elsewhere and never announce a start. When a unit of
// work ends unsuccessfully the OnRollback of the log's handler runs once with
// what was applied; either way the log is then dropped.
//
// The Lifecycle's handler is the failure policy of every unit of work it
// manages. An Interceptor running inside one of them defers to it.
type Lifecycle struct {
	delegate uow.Coordinator
	handler  ErrorHandler
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewLifecycle(c uow.Coordinator, h ErrorHandler, opts ...Option) (*Lifecycle, error) {
	if c == nil {
		return nil, errors.WithStack(ErrNoCoordinator)
	}
	if h == nil {
		return nil, errors.WithStack(ErrNoErrorHandler)
	}
	o := newOptions(opts)
	l := &Lifecycle{delegate: c, handler: h, log: o.log, metrics: o.metrics}
	c.AddObserver(uow.ObserverFunc(l.afterCompletion))
	return l, nil
}

var _ uow.Coordinator = (*Lifecycle)(nil)

func (l *Lifecycle) ID() string                 { return l.delegate.ID() }
func (l *Lifecycle) IsActive() bool             { return l.delegate.IsActive() }
func (l *Lifecycle) AddObserver(o uow.Observer) { l.delegate.AddObserver(o) }
func (l *Lifecycle) Scope() *uow.Scope          { return l.delegate.Scope() }

func (l *Lifecycle) Commit(ctx context.Context) error {
	return l.delegate.Commit(ctx)
}

func (l *Lifecycle) Rollback(ctx context.Context) error {
	return l.delegate.Rollback(ctx)
}

func (l *Lifecycle) Complete(ctx context.Context, successful bool) error {
	return l.delegate.Complete(ctx, successful)
}

func (l *Lifecycle) Pulse(ctx context.Context) error {
	if err := l.delegate.Pulse(ctx); err != nil {
		return err
	}
	if scope := l.delegate.Scope(); scope != nil {
		scope.LoadOrStore(policyKey{}, func() any { return l.handler })
		logFor(scope, l.handler)
	}
	return nil
}

// Log returns the log of the active unit of work, if one has been created.
func (l *Lifecycle) Log() (*OperationLog, bool) {
	scope := l.delegate.Scope()
	if scope == nil {
		return nil, false
	}
	v, ok := scope.Load(logKey{})
	if !ok {
		return nil, false
	}
	return v.(*OperationLog), true
}

func (l *Lifecycle) afterCompletion(ctx context.Context, c uow.Coordinator, successful bool) error {
	scope := c.Scope()
	if scope == nil {
		return nil
	}
	v, ok := scope.Load(logKey{})
	if !ok {
		return nil
	}
	scope.Delete(logKey{})
	if successful {
		return nil
	}

	opLog := v.(*OperationLog)
	applied := opLog.AppliedOperations()
	l.metrics.RolledBack()
	l.log.DebugContext(ctx, "reporting rollback",
		slog.String("uow", c.ID()),
		slog.Int("applied", len(applied)),
	)
	// The log's policy classified this unit of work's failures, so it also
	// gets the rollback.
	return opLog.handler.OnRollback(ctx, RollbackContext{AppliedOperations: applied})
}

// policyFor returns the handler registered for the unit of work owning
// scope, or fallback when none was registered.
func policyFor(scope *uow.Scope, fallback ErrorHandler) ErrorHandler {
	if v, ok := scope.Load(policyKey{}); ok {
		return v.(ErrorHandler)
	}
	return fallback
}

// logFor returns the log stored in scope, creating it for h if absent.
func logFor(scope *uow.Scope, h ErrorHandler) *OperationLog {
	v, _ := scope.LoadOrStore(logKey{}, func() any {
		return newOperationLog(h)
	})
	return v.(*OperationLog)
}
