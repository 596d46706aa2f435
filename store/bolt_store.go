package store

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"
)

var defaultBucket = []byte("default")

type boltStore struct {
	log   *slog.Logger
	bbolt *bbolt.DB
}

const mode = 0666

// NewBoltStore opens (or creates) a bbolt file at path. Every conditional
// primitive runs inside a single read-write transaction, which bbolt
// serialises.
func NewBoltStore(path string, opts ...Option) (ConditionalStore, error) {
	o := newOptions(opts)
	db, err := bbolt.Open(path, mode, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, errors.CombineErrors(err, db.Close())
	}
	return &boltStore{
		bbolt: db,
		log:   o.log,
	}, nil
}

var _ ConditionalStore = (*boltStore)(nil)
var _ BatchStore = (*boltStore)(nil)

func (s *boltStore) Get(_ context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.bbolt.View(func(tx *bbolt.Tx) error {
		if got := tx.Bucket(defaultBucket).Get(key); got != nil {
			v = bytes.Clone(got)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if v == nil {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (s *boltStore) update(fn func(b *bbolt.Bucket) error) error {
	return errors.WithStack(s.bbolt.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(defaultBucket))
	}))
}

func (s *boltStore) Put(ctx context.Context, key []byte, value []byte) error {
	s.log.DebugContext(ctx, "put", slog.String("key", string(key)))
	return s.update(func(b *bbolt.Bucket) error {
		return errors.WithStack(b.Put(key, value))
	})
}

func (s *boltStore) Delete(ctx context.Context, key []byte) error {
	s.log.DebugContext(ctx, "delete", slog.String("key", string(key)))
	return s.update(func(b *bbolt.Bucket) error {
		return errors.WithStack(b.Delete(key))
	})
}

func (s *boltStore) PutIfAbsent(_ context.Context, key []byte, value []byte) (bool, error) {
	applied := false
	err := s.update(func(b *bbolt.Bucket) error {
		if b.Get(key) != nil {
			return nil
		}
		applied = true
		return errors.WithStack(b.Put(key, value))
	})
	return applied && err == nil, err
}

func (s *boltStore) CompareAndSwap(_ context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	applied := false
	err := s.update(func(b *bbolt.Bucket) error {
		cur := b.Get(key)
		if cur == nil || !bytes.Equal(cur, expected) {
			return nil
		}
		applied = true
		return errors.WithStack(b.Put(key, value))
	})
	return applied && err == nil, err
}

func (s *boltStore) CompareAndDelete(_ context.Context, key []byte, expected []byte) (bool, error) {
	applied := false
	err := s.update(func(b *bbolt.Bucket) error {
		cur := b.Get(key)
		if cur == nil || !bytes.Equal(cur, expected) {
			return nil
		}
		applied = true
		return errors.WithStack(b.Delete(key))
	})
	return applied && err == nil, err
}

// ApplyBatch relies on bbolt rolling back the whole transaction when the
// callback returns an error.
func (s *boltStore) ApplyBatch(ctx context.Context, mutations []*Mutation) error {
	s.log.DebugContext(ctx, "apply batch", slog.Int("mutations", len(mutations)))
	return s.update(func(b *bbolt.Bucket) error {
		for _, mut := range mutations {
			var err error
			switch mut.Op {
			case OpTypePut:
				err = b.Put(mut.Key, mut.Value)
			case OpTypeDelete:
				err = b.Delete(mut.Key)
			default:
				err = ErrUnknownOp
			}
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func (s *boltStore) Name() string {
	return "bolt"
}

func (s *boltStore) Close() error {
	return errors.WithStack(s.bbolt.Close())
}
