// Package sequence hands out values of named counters on stores that only
// offer single-key read, insert-if-absent and update-if-matches.
package sequence

import (
	"context"
	"strconv"

	"github.com/bootjp/elasticgrid/store"
	"github.com/cockroachdb/errors"
)

// Store is the narrow surface the generator needs. Every method addresses a
// single sequence row; the conditional ones must be atomic at the store.
type Store interface {
	// ReadSequence reports false when the sequence has never been initialised.
	ReadSequence(ctx context.Context, name string) (int64, bool, error)
	InsertSequenceIfAbsent(ctx context.Context, name string, value int64) (bool, error)
	UpdateSequenceIfMatches(ctx context.Context, name string, expected, next int64) (bool, error)
}

const keyPrefix = "seq|"

// kvStore keeps each counter as decimal text under seq|<name>. Formatting
// is canonical, so comparing encoded bytes compares values.
type kvStore struct {
	st store.ConditionalStore
}

func NewKVStore(st store.ConditionalStore) Store {
	return &kvStore{st: st}
}

// FromStore prefers a backend's native sequence table and falls back to
// plain keys.
func FromStore(st store.ConditionalStore) Store {
	if native, ok := st.(Store); ok {
		return native
	}
	return NewKVStore(st)
}

func seqKey(name string) []byte {
	return []byte(keyPrefix + name)
}

func encode(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func (s *kvStore) ReadSequence(ctx context.Context, name string) (int64, bool, error) {
	raw, err := s.st.Get(ctx, seqKey(name))
	if errors.Is(err, store.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "sequence %s holds %q", name, raw)
	}
	return v, true, nil
}

func (s *kvStore) InsertSequenceIfAbsent(ctx context.Context, name string, value int64) (bool, error) {
	ok, err := s.st.PutIfAbsent(ctx, seqKey(name), encode(value))
	return ok, errors.WithStack(err)
}

func (s *kvStore) UpdateSequenceIfMatches(ctx context.Context, name string, expected, next int64) (bool, error) {
	ok, err := s.st.CompareAndSwap(ctx, seqKey(name), encode(expected), encode(next))
	return ok, errors.WithStack(err)
}
