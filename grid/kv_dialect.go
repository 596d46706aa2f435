package grid

import (
	"context"
	"log/slog"
	"os"

	"github.com/bootjp/elasticgrid/internal"
	"github.com/bootjp/elasticgrid/sequence"
	"github.com/bootjp/elasticgrid/store"
	"github.com/cockroachdb/errors"
)

// KVDialect maps tuples and associations onto single keys of a
// ConditionalStore.
type KVDialect struct {
	store store.ConditionalStore
	seq   *sequence.Generator
	log   *slog.Logger
}

type KVDialectOption func(*KVDialect)

func WithLogger(l *slog.Logger) KVDialectOption {
	return func(d *KVDialect) {
		if l != nil {
			d.log = l
		}
	}
}

// WithSequenceGenerator replaces the generator used by NextValue, which
// otherwise runs with default settings against st.
func WithSequenceGenerator(g *sequence.Generator) KVDialectOption {
	return func(d *KVDialect) {
		if g != nil {
			d.seq = g
		}
	}
}

func NewKVDialect(st store.ConditionalStore, opts ...KVDialectOption) (*KVDialect, error) {
	if st == nil {
		return nil, errors.WithStack(store.ErrNotSupported)
	}
	d := &KVDialect{
		store: st,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.seq == nil {
		g, err := sequence.NewGenerator(sequence.FromStore(st), sequence.WithLogger(d.log))
		if err != nil {
			return nil, err
		}
		d.seq = g
	}
	return d, nil
}

var _ Dialect = (*KVDialect)(nil)

func (d *KVDialect) GetTuple(ctx context.Context, key EntityKey) (Tuple, error) {
	raw, err := d.store.Get(ctx, tupleKey(key))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return decodeTuple(raw)
}

func (d *KVDialect) GetAssociation(ctx context.Context, key AssociationKey) (*Association, error) {
	raw, err := d.store.Get(ctx, associationKey(key))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return decodeAssociation(raw)
}

// CreateTuple returns a fresh snapshot holding only the id columns. Nothing
// is written until the tuple is inserted.
func (d *KVDialect) CreateTuple(_ context.Context, key EntityKey) (Tuple, error) {
	t := make(Tuple, len(key.Metadata.Columns))
	for i, col := range key.Metadata.Columns {
		if i < len(key.Values) {
			t[col] = key.Values[i]
		}
	}
	return t, nil
}

// CreateTupleWithGeneratedKey draws the id from the sequence named after the
// table, starting at 1.
func (d *KVDialect) CreateTupleWithGeneratedKey(ctx context.Context, meta EntityKeyMetadata) (EntityKey, Tuple, error) {
	if len(meta.Columns) != 1 {
		return EntityKey{}, nil, errors.Wrapf(ErrCompositeID, "%s has %d", meta.Table, len(meta.Columns))
	}
	id, err := d.NextValue(ctx, IDSourceKey{Name: meta.Table, InitialValue: 1, Increment: 1})
	if err != nil {
		return EntityKey{}, nil, err
	}
	key := NewEntityKey(meta.Table, meta.Columns, id)
	return key, Tuple{meta.Columns[0]: id}, nil
}

func (d *KVDialect) InsertTuple(ctx context.Context, key EntityKey, tuple Tuple) error {
	raw, err := encodeTuple(tuple)
	if err != nil {
		return err
	}
	ok, err := d.store.PutIfAbsent(ctx, tupleKey(key), raw)
	if err != nil {
		return errors.WithStack(err)
	}
	if !ok {
		return errors.Wrapf(ErrDuplicateKey, "%s", key)
	}
	return nil
}

func (d *KVDialect) InsertOrUpdateTuple(ctx context.Context, key EntityKey, tuple Tuple) error {
	raw, err := encodeTuple(tuple)
	if err != nil {
		return err
	}
	return errors.WithStack(d.store.Put(ctx, tupleKey(key), raw))
}

func (d *KVDialect) RemoveTuple(ctx context.Context, key EntityKey) error {
	return errors.WithStack(d.store.Delete(ctx, tupleKey(key)))
}

// lockedCurrent returns the stored bytes of key if the decoded tuple still
// matches oldLockState.
func (d *KVDialect) lockedCurrent(ctx context.Context, key EntityKey, oldLockState Tuple) ([]byte, bool, error) {
	raw, err := d.store.Get(ctx, tupleKey(key))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	cur, err := decodeTuple(raw)
	if err != nil {
		return nil, false, err
	}
	ok, err := sameColumnValues(oldLockState, cur)
	if err != nil || !ok {
		return nil, false, err
	}
	return raw, true, nil
}

func (d *KVDialect) UpdateTupleWithOptimisticLock(ctx context.Context, key EntityKey, oldLockState, newTuple Tuple) (bool, error) {
	raw, ok, err := d.lockedCurrent(ctx, key, oldLockState)
	if err != nil || !ok {
		return false, err
	}
	next, err := encodeTuple(newTuple)
	if err != nil {
		return false, err
	}
	return internal.WithStacks(d.store.CompareAndSwap(ctx, tupleKey(key), raw, next))
}

func (d *KVDialect) RemoveTupleWithOptimisticLock(ctx context.Context, key EntityKey, oldLockState Tuple) (bool, error) {
	raw, ok, err := d.lockedCurrent(ctx, key, oldLockState)
	if err != nil || !ok {
		return false, err
	}
	return internal.WithStacks(d.store.CompareAndDelete(ctx, tupleKey(key), raw))
}

func (d *KVDialect) CreateAssociation(_ context.Context, _ AssociationKey) (*Association, error) {
	return &Association{Rows: []Tuple{}}, nil
}

func (d *KVDialect) InsertOrUpdateAssociation(ctx context.Context, key AssociationKey, assoc *Association) error {
	if assoc == nil || len(assoc.Rows) == 0 {
		return d.RemoveAssociation(ctx, key)
	}
	raw, err := encodeAssociation(assoc)
	if err != nil {
		return err
	}
	return errors.WithStack(d.store.Put(ctx, associationKey(key), raw))
}

func (d *KVDialect) RemoveAssociation(ctx context.Context, key AssociationKey) error {
	return errors.WithStack(d.store.Delete(ctx, associationKey(key)))
}

// ExecuteBatch applies queue in order. Stores that implement
// store.BatchStore get it all-or-nothing; others get one call per write and
// may be left partially applied on error.
func (d *KVDialect) ExecuteBatch(ctx context.Context, queue []Mutation) error {
	muts, err := toStoreMutations(Flatten(queue, GroupMembers))
	if err != nil {
		return err
	}
	if len(muts) == 0 {
		return nil
	}
	if bs, ok := d.store.(store.BatchStore); ok {
		return errors.WithStack(bs.ApplyBatch(ctx, muts))
	}
	d.log.DebugContext(ctx, "store has no atomic batch, applying sequentially",
		slog.String("store", d.store.Name()),
		slog.Int("mutations", len(muts)),
	)
	for _, m := range muts {
		switch m.Op {
		case store.OpTypePut:
			err = d.store.Put(ctx, m.Key, m.Value)
		case store.OpTypeDelete:
			err = d.store.Delete(ctx, m.Key)
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// FlushPendingOperations writes the operations queued for key. On a plain
// key/value store that is the same as executing them as a batch.
func (d *KVDialect) FlushPendingOperations(ctx context.Context, _ EntityKey, queue []Mutation) error {
	return d.ExecuteBatch(ctx, queue)
}

func (d *KVDialect) NextValue(ctx context.Context, src IDSourceKey) (int64, error) {
	return d.seq.Next(ctx, sequence.Request{
		Name:         src.Name,
		InitialValue: src.InitialValue,
		Increment:    src.Increment,
	})
}

func toStoreMutations(flat []Mutation) ([]*store.Mutation, error) {
	out := make([]*store.Mutation, 0, len(flat))
	for _, m := range flat {
		switch x := m.(type) {
		case InsertOrUpdateTupleMutation:
			raw, err := encodeTuple(x.Tuple)
			if err != nil {
				return nil, err
			}
			out = append(out, &store.Mutation{Op: store.OpTypePut, Key: tupleKey(x.Key), Value: raw})
		case RemoveTupleMutation:
			out = append(out, &store.Mutation{Op: store.OpTypeDelete, Key: tupleKey(x.Key)})
		case InsertOrUpdateAssociationMutation:
			if x.Association == nil || len(x.Association.Rows) == 0 {
				out = append(out, &store.Mutation{Op: store.OpTypeDelete, Key: associationKey(x.Key)})
				continue
			}
			raw, err := encodeAssociation(x.Association)
			if err != nil {
				return nil, err
			}
			out = append(out, &store.Mutation{Op: store.OpTypePut, Key: associationKey(x.Key), Value: raw})
		case RemoveAssociationMutation:
			out = append(out, &store.Mutation{Op: store.OpTypeDelete, Key: associationKey(x.Key)})
		default:
			return nil, errors.Wrapf(store.ErrUnknownOp, "%T", m)
		}
	}
	return out, nil
}
