package store

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// pebbleStore keeps plain key/value pairs in a Pebble LSM tree. Pebble has
// no conditional writes, so every write holds mtx and conditional
// primitives do their read-check-write under it. Reads take no lock.
type pebbleStore struct {
	db  *pebble.DB
	log *slog.Logger
	mtx sync.Mutex
}

// NewPebbleStore opens (or creates) a Pebble database in dir. Writes are
// synced before they return.
func NewPebbleStore(dir string, opts ...Option) (ConditionalStore, error) {
	o := newOptions(opts)
	pebbleOpts := &pebble.Options{
		FS: vfs.Default,
	}
	pebbleOpts.EnsureDefaults()

	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &pebbleStore{db: db, log: o.log}, nil
}

var _ ConditionalStore = (*pebbleStore)(nil)
var _ BatchStore = (*pebbleStore)(nil)

func (s *pebbleStore) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

func (s *pebbleStore) Get(_ context.Context, key []byte) ([]byte, error) {
	return s.get(key)
}

func (s *pebbleStore) Put(ctx context.Context, key []byte, value []byte) error {
	s.log.DebugContext(ctx, "put", slog.String("key", string(key)))
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return errors.WithStack(s.db.Set(key, value, pebble.Sync))
}

func (s *pebbleStore) Delete(ctx context.Context, key []byte) error {
	s.log.DebugContext(ctx, "delete", slog.String("key", string(key)))
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return errors.WithStack(s.db.Delete(key, pebble.Sync))
}

// current returns the stored value, or nil when key is absent.
func (s *pebbleStore) current(key []byte) ([]byte, error) {
	v, err := s.get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	return v, err
}

func (s *pebbleStore) PutIfAbsent(_ context.Context, key []byte, value []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	cur, err := s.current(key)
	if err != nil || cur != nil {
		return false, err
	}
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

func (s *pebbleStore) CompareAndSwap(_ context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	cur, err := s.current(key)
	if err != nil || cur == nil || !bytes.Equal(cur, expected) {
		return false, err
	}
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

func (s *pebbleStore) CompareAndDelete(_ context.Context, key []byte, expected []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	cur, err := s.current(key)
	if err != nil || cur == nil || !bytes.Equal(cur, expected) {
		return false, err
	}
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

// ApplyBatch commits one pebble.Batch, which is applied atomically.
func (s *pebbleStore) ApplyBatch(ctx context.Context, mutations []*Mutation) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, mut := range mutations {
		var err error
		switch mut.Op {
		case OpTypePut:
			err = b.Set(mut.Key, mut.Value, nil)
		case OpTypeDelete:
			err = b.Delete(mut.Key, nil)
		default:
			err = ErrUnknownOp
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}

	s.log.DebugContext(ctx, "apply batch", slog.Int("mutations", len(mutations)))
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return errors.WithStack(b.Commit(pebble.Sync))
}

func (s *pebbleStore) Name() string {
	return "pebble"
}

func (s *pebbleStore) Close() error {
	return errors.WithStack(s.db.Close())
}
