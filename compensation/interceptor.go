package compensation

import (
	"context"
	"log/slog"

	"github.com/bootjp/elasticgrid/grid"
	"github.com/bootjp/elasticgrid/metrics"
	"github.com/bootjp/elasticgrid/uow"
	"github.com/cockroachdb/errors"
)

// Interceptor wraps a grid.Dialect. Each successful mutating call is
// appended to the OperationLog of the unit of work carried by ctx; each
// failing one is put to the ErrorHandler, which decides whether the error
// reaches the caller. Errors are returned exactly as the delegate produced
// them.
//
// Optimistic-lock calls are only recorded once the caller reports their
// outcome through the OptimisticLockListener hooks.
//
// Inside a unit of work managed by a Lifecycle, failures are put to the
// Lifecycle's handler. The Interceptor's own handler decides for calls made
// outside any unit of work and for units of work no Lifecycle manages.
type Interceptor struct {
	delegate grid.Dialect
	handler  ErrorHandler
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewInterceptor(delegate grid.Dialect, handler ErrorHandler, opts ...Option) (*Interceptor, error) {
	if delegate == nil {
		return nil, errors.WithStack(ErrNoDelegate)
	}
	if handler == nil {
		return nil, errors.WithStack(ErrNoErrorHandler)
	}
	o := newOptions(opts)
	return &Interceptor{delegate: delegate, handler: handler, log: o.log, metrics: o.metrics}, nil
}

var (
	_ grid.Dialect                = (*Interceptor)(nil)
	_ grid.OptimisticLockListener = (*Interceptor)(nil)
)

// currentLog pulses the unit of work in ctx and returns its log, bound to
// the unit of work's policy. Outside a unit of work a throwaway log is
// returned, so failures are still classified but nothing is kept.
func (i *Interceptor) currentLog(ctx context.Context) (*OperationLog, error) {
	c, ok := uow.FromContext(ctx)
	if !ok {
		return newOperationLog(i.handler), nil
	}
	if err := c.Pulse(ctx); err != nil {
		return nil, err
	}
	scope := c.Scope()
	if scope == nil {
		return newOperationLog(i.handler), nil
	}
	return logFor(scope, policyFor(scope, i.handler)), nil
}

func (i *Interceptor) applied(log *OperationLog, op Operation) {
	log.RecordApplied(op)
	i.metrics.OperationApplied(op.Kind().String())
}

// failed returns err when the handler aborts and nil when it continues.
func (i *Interceptor) failed(ctx context.Context, log *OperationLog, op Operation, err error) error {
	verdict := log.ClassifyFailure(ctx, op, err)
	i.metrics.OperationFailed(op.Kind().String(), verdict.String())
	i.log.DebugContext(ctx, "operation failed",
		slog.String("operation", op.String()),
		slog.String("verdict", verdict.String()),
		slog.Any("error", err),
	)
	if verdict == Continue {
		return nil
	}
	return err
}

func (i *Interceptor) run(ctx context.Context, op Operation, call func(context.Context) error) error {
	log, err := i.currentLog(ctx)
	if err != nil {
		return err
	}
	if cerr := call(ctx); cerr != nil {
		return i.failed(ctx, log, op, cerr)
	}
	i.applied(log, op)
	return nil
}

func (i *Interceptor) GetTuple(ctx context.Context, key grid.EntityKey) (grid.Tuple, error) {
	return i.delegate.GetTuple(ctx, key)
}

func (i *Interceptor) GetAssociation(ctx context.Context, key grid.AssociationKey) (*grid.Association, error) {
	return i.delegate.GetAssociation(ctx, key)
}

func (i *Interceptor) CreateTuple(ctx context.Context, key grid.EntityKey) (grid.Tuple, error) {
	var out grid.Tuple
	err := i.run(ctx, NewCreateTuple(key), func(ctx context.Context) error {
		t, err := i.delegate.CreateTuple(ctx, key)
		if err == nil {
			out = t
		}
		return err
	})
	return out, err
}

func (i *Interceptor) CreateTupleWithGeneratedKey(ctx context.Context, meta grid.EntityKeyMetadata) (grid.EntityKey, grid.Tuple, error) {
	var (
		outKey   grid.EntityKey
		outTuple grid.Tuple
	)
	err := i.run(ctx, NewCreateTupleWithGeneratedKey(meta), func(ctx context.Context) error {
		k, t, err := i.delegate.CreateTupleWithGeneratedKey(ctx, meta)
		if err == nil {
			outKey, outTuple = k, t
		}
		return err
	})
	return outKey, outTuple, err
}

func (i *Interceptor) InsertTuple(ctx context.Context, key grid.EntityKey, tuple grid.Tuple) error {
	return i.run(ctx, NewInsertTuple(key, tuple), func(ctx context.Context) error {
		return i.delegate.InsertTuple(ctx, key, tuple)
	})
}

func (i *Interceptor) InsertOrUpdateTuple(ctx context.Context, key grid.EntityKey, tuple grid.Tuple) error {
	return i.run(ctx, NewInsertOrUpdateTuple(key, tuple), func(ctx context.Context) error {
		return i.delegate.InsertOrUpdateTuple(ctx, key, tuple)
	})
}

func (i *Interceptor) RemoveTuple(ctx context.Context, key grid.EntityKey) error {
	return i.run(ctx, NewRemoveTuple(key), func(ctx context.Context) error {
		return i.delegate.RemoveTuple(ctx, key)
	})
}

// UpdateTupleWithOptimisticLock forwards the call untouched. The caller
// reports the outcome through the listener hooks.
func (i *Interceptor) UpdateTupleWithOptimisticLock(ctx context.Context, key grid.EntityKey, oldLockState, newTuple grid.Tuple) (bool, error) {
	if _, err := i.currentLog(ctx); err != nil {
		return false, err
	}
	return i.delegate.UpdateTupleWithOptimisticLock(ctx, key, oldLockState, newTuple)
}

func (i *Interceptor) RemoveTupleWithOptimisticLock(ctx context.Context, key grid.EntityKey, oldLockState grid.Tuple) (bool, error) {
	if _, err := i.currentLog(ctx); err != nil {
		return false, err
	}
	return i.delegate.RemoveTupleWithOptimisticLock(ctx, key, oldLockState)
}

func (i *Interceptor) CreateAssociation(ctx context.Context, key grid.AssociationKey) (*grid.Association, error) {
	var out *grid.Association
	err := i.run(ctx, NewCreateAssociation(key), func(ctx context.Context) error {
		a, err := i.delegate.CreateAssociation(ctx, key)
		if err == nil {
			out = a
		}
		return err
	})
	return out, err
}

func (i *Interceptor) InsertOrUpdateAssociation(ctx context.Context, key grid.AssociationKey, assoc *grid.Association) error {
	return i.run(ctx, NewInsertOrUpdateAssociation(key, assoc), func(ctx context.Context) error {
		return i.delegate.InsertOrUpdateAssociation(ctx, key, assoc)
	})
}

func (i *Interceptor) RemoveAssociation(ctx context.Context, key grid.AssociationKey) error {
	return i.run(ctx, NewRemoveAssociation(key), func(ctx context.Context) error {
		return i.delegate.RemoveAssociation(ctx, key)
	})
}

func (i *Interceptor) ExecuteBatch(ctx context.Context, queue []grid.Mutation) error {
	return i.run(ctx, NewExecuteBatch(queue), func(ctx context.Context) error {
		return i.delegate.ExecuteBatch(ctx, queue)
	})
}

func (i *Interceptor) FlushPendingOperations(ctx context.Context, key grid.EntityKey, queue []grid.Mutation) error {
	return i.run(ctx, NewFlushPendingOperations(key, queue), func(ctx context.Context) error {
		return i.delegate.FlushPendingOperations(ctx, key, queue)
	})
}

// NextValue is forwarded and never recorded: sequence values are not given
// back on rollback.
func (i *Interceptor) NextValue(ctx context.Context, src grid.IDSourceKey) (int64, error) {
	return i.delegate.NextValue(ctx, src)
}

func (i *Interceptor) delegateListener() (grid.OptimisticLockListener, bool) {
	l, ok := i.delegate.(grid.OptimisticLockListener)
	return l, ok
}

func (i *Interceptor) OnUpdateTupleWithOptimisticLockSuccess(ctx context.Context, key grid.EntityKey, oldLockState, newTuple grid.Tuple) {
	if log, err := i.currentLog(ctx); err == nil {
		i.applied(log, NewUpdateTupleWithOptimisticLock(key, oldLockState, newTuple))
	}
	if l, ok := i.delegateListener(); ok {
		l.OnUpdateTupleWithOptimisticLockSuccess(ctx, key, oldLockState, newTuple)
	}
}

func (i *Interceptor) OnUpdateTupleWithOptimisticLockFailure(ctx context.Context, key grid.EntityKey, oldLockState, newTuple grid.Tuple, err error) error {
	log, lerr := i.currentLog(ctx)
	if lerr != nil {
		return errors.CombineErrors(err, lerr)
	}
	if i.failed(ctx, log, NewUpdateTupleWithOptimisticLock(key, oldLockState, newTuple), err) == nil {
		return nil
	}
	if l, ok := i.delegateListener(); ok {
		return l.OnUpdateTupleWithOptimisticLockFailure(ctx, key, oldLockState, newTuple, err)
	}
	return err
}

func (i *Interceptor) OnRemoveTupleWithOptimisticLockSuccess(ctx context.Context, key grid.EntityKey, oldLockState grid.Tuple) {
	if log, err := i.currentLog(ctx); err == nil {
		i.applied(log, NewRemoveTupleWithOptimisticLock(key, oldLockState))
	}
	if l, ok := i.delegateListener(); ok {
		l.OnRemoveTupleWithOptimisticLockSuccess(ctx, key, oldLockState)
	}
}

func (i *Interceptor) OnRemoveTupleWithOptimisticLockFailure(ctx context.Context, key grid.EntityKey, oldLockState grid.Tuple, err error) error {
	log, lerr := i.currentLog(ctx)
	if lerr != nil {
		return errors.CombineErrors(err, lerr)
	}
	if i.failed(ctx, log, NewRemoveTupleWithOptimisticLock(key, oldLockState), err) == nil {
		return nil
	}
	if l, ok := i.delegateListener(); ok {
		return l.OnRemoveTupleWithOptimisticLockFailure(ctx, key, oldLockState, err)
	}
	return err
}
