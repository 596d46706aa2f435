package store

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/emirpasic/gods/maps/treemap"
)

// rbMemoryStore keeps values in a red-black tree ordered by key.
type rbMemoryStore struct {
	tree   *treemap.Map
	mtx    sync.RWMutex
	log    *slog.Logger
	closed bool
}

func byteSliceComparator(a, b interface{}) int {
	ab, okA := a.([]byte)
	bb, okB := b.([]byte)
	switch {
	case okA && okB:
		return bytes.Compare(ab, bb)
	case okA:
		return 1
	case okB:
		return -1
	default:
		return 0
	}
}

func NewRbMemoryStore(opts ...Option) ConditionalStore {
	o := newOptions(opts)
	return &rbMemoryStore{
		tree: treemap.NewWith(byteSliceComparator),
		log:  o.log,
	}
}

var _ ConditionalStore = (*rbMemoryStore)(nil)
var _ BatchStore = (*rbMemoryStore)(nil)

func (s *rbMemoryStore) getLocked(key []byte) ([]byte, bool) {
	v, ok := s.tree.Get(key)
	if !ok {
		return nil, false
	}
	vv, ok := v.([]byte)
	return vv, ok
}

func (s *rbMemoryStore) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.closed {
		return nil, errors.WithStack(ErrClosed)
	}
	v, ok := s.getLocked(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (s *rbMemoryStore) Put(ctx context.Context, key []byte, value []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return errors.WithStack(ErrClosed)
	}
	s.tree.Put(bytes.Clone(key), bytes.Clone(value))
	s.log.DebugContext(ctx, "put", slog.String("key", string(key)))
	return nil
}

func (s *rbMemoryStore) Delete(ctx context.Context, key []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return errors.WithStack(ErrClosed)
	}
	s.tree.Remove(key)
	s.log.DebugContext(ctx, "delete", slog.String("key", string(key)))
	return nil
}

func (s *rbMemoryStore) PutIfAbsent(_ context.Context, key []byte, value []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return false, errors.WithStack(ErrClosed)
	}
	if _, ok := s.getLocked(key); ok {
		return false, nil
	}
	s.tree.Put(bytes.Clone(key), bytes.Clone(value))
	return true, nil
}

func (s *rbMemoryStore) CompareAndSwap(_ context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return false, errors.WithStack(ErrClosed)
	}
	cur, ok := s.getLocked(key)
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	s.tree.Put(bytes.Clone(key), bytes.Clone(value))
	return true, nil
}

func (s *rbMemoryStore) CompareAndDelete(_ context.Context, key []byte, expected []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return false, errors.WithStack(ErrClosed)
	}
	cur, ok := s.getLocked(key)
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	s.tree.Remove(key)
	return true, nil
}

// ApplyBatch validates every op before touching the tree so a bad batch
// leaves nothing behind.
func (s *rbMemoryStore) ApplyBatch(ctx context.Context, mutations []*Mutation) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return errors.WithStack(ErrClosed)
	}
	for _, mut := range mutations {
		if mut.Op != OpTypePut && mut.Op != OpTypeDelete {
			return errors.WithStack(ErrUnknownOp)
		}
	}
	for _, mut := range mutations {
		switch mut.Op {
		case OpTypePut:
			s.tree.Put(bytes.Clone(mut.Key), bytes.Clone(mut.Value))
		case OpTypeDelete:
			s.tree.Remove(mut.Key)
		}
	}
	s.log.DebugContext(ctx, "apply batch", slog.Int("mutations", len(mutations)))
	return nil
}

func (s *rbMemoryStore) Name() string {
	return "memory"
}

func (s *rbMemoryStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.closed = true
	s.tree.Clear()
	return nil
}
