package grid

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrStaleState   = errors.New("stale state")
	ErrCompositeID  = errors.New("generated keys need exactly one id column")
)

// Dialect is every call entity persistence makes against a store. Reads
// return a nil Tuple or Association when nothing is stored.
type Dialect interface {
	GetTuple(ctx context.Context, key EntityKey) (Tuple, error)
	GetAssociation(ctx context.Context, key AssociationKey) (*Association, error)

	CreateTuple(ctx context.Context, key EntityKey) (Tuple, error)
	CreateTupleWithGeneratedKey(ctx context.Context, meta EntityKeyMetadata) (EntityKey, Tuple, error)
	// InsertTuple fails with ErrDuplicateKey if the key is taken.
	InsertTuple(ctx context.Context, key EntityKey, tuple Tuple) error
	InsertOrUpdateTuple(ctx context.Context, key EntityKey, tuple Tuple) error
	RemoveTuple(ctx context.Context, key EntityKey) error

	// UpdateTupleWithOptimisticLock writes newTuple only if every column of
	// oldLockState still holds. Losing the race returns false, not an error.
	UpdateTupleWithOptimisticLock(ctx context.Context, key EntityKey, oldLockState, newTuple Tuple) (bool, error)
	RemoveTupleWithOptimisticLock(ctx context.Context, key EntityKey, oldLockState Tuple) (bool, error)

	CreateAssociation(ctx context.Context, key AssociationKey) (*Association, error)
	InsertOrUpdateAssociation(ctx context.Context, key AssociationKey, assoc *Association) error
	RemoveAssociation(ctx context.Context, key AssociationKey) error

	ExecuteBatch(ctx context.Context, queue []Mutation) error
	FlushPendingOperations(ctx context.Context, key EntityKey, queue []Mutation) error

	NextValue(ctx context.Context, src IDSourceKey) (int64, error)
}

// OptimisticLockListener is told how an optimistic-lock call turned out once
// the caller has interpreted its result. The failure hooks return the error
// the caller should surface, or nil to carry on.
type OptimisticLockListener interface {
	OnUpdateTupleWithOptimisticLockSuccess(ctx context.Context, key EntityKey, oldLockState, newTuple Tuple)
	OnUpdateTupleWithOptimisticLockFailure(ctx context.Context, key EntityKey, oldLockState, newTuple Tuple, err error) error
	OnRemoveTupleWithOptimisticLockSuccess(ctx context.Context, key EntityKey, oldLockState Tuple)
	OnRemoveTupleWithOptimisticLockFailure(ctx context.Context, key EntityKey, oldLockState Tuple, err error) error
}
