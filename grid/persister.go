package grid

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Persister performs version-checked writes. A lost optimistic lock becomes
// ErrStaleState, and the outcome is reported to the dialect when it
// implements OptimisticLockListener.
type Persister struct {
	dialect Dialect
}

func NewPersister(d Dialect) *Persister {
	return &Persister{dialect: d}
}

func (p *Persister) UpdateTuple(ctx context.Context, key EntityKey, oldLockState, newTuple Tuple) error {
	applied, err := p.dialect.UpdateTupleWithOptimisticLock(ctx, key, oldLockState, newTuple)
	if err == nil && !applied {
		err = errors.Wrapf(ErrStaleState, "update %s", key)
	}
	listener, ok := p.dialect.(OptimisticLockListener)
	if !ok {
		return err
	}
	if err != nil {
		return listener.OnUpdateTupleWithOptimisticLockFailure(ctx, key, oldLockState, newTuple, err)
	}
	listener.OnUpdateTupleWithOptimisticLockSuccess(ctx, key, oldLockState, newTuple)
	return nil
}

func (p *Persister) RemoveTuple(ctx context.Context, key EntityKey, oldLockState Tuple) error {
	applied, err := p.dialect.RemoveTupleWithOptimisticLock(ctx, key, oldLockState)
	if err == nil && !applied {
		err = errors.Wrapf(ErrStaleState, "remove %s", key)
	}
	listener, ok := p.dialect.(OptimisticLockListener)
	if !ok {
		return err
	}
	if err != nil {
		return listener.OnRemoveTupleWithOptimisticLockFailure(ctx, key, oldLockState, err)
	}
	listener.OnRemoveTupleWithOptimisticLockSuccess(ctx, key, oldLockState)
	return nil
}
