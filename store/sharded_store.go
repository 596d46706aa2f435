package store

import (
	"context"
	"strings"

	"github.com/bootjp/elasticgrid/internal"
	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
)

var ErrNoShards = errors.New("no shards configured")

// shardedStore routes every key to exactly one child by murmur3 hash. Each
// conditional primitive touches a single key and so keeps the atomicity of
// the child it lands on. Batches may span shards, so shardedStore is not a
// BatchStore.
type shardedStore struct {
	shards []ConditionalStore
}

func NewShardedStore(shards ...ConditionalStore) (ConditionalStore, error) {
	if len(shards) == 0 {
		return nil, errors.WithStack(ErrNoShards)
	}
	return &shardedStore{shards: shards}, nil
}

var (
	_ ConditionalStore = (*shardedStore)(nil)
	_ Compactor        = (*shardedStore)(nil)
)

func shardIndex(key []byte, n int) int {
	h := murmur3.New64()
	_, _ = h.Write(key)
	return int(h.Sum64() % uint64(n)) //nolint:gosec
}

func (s *shardedStore) route(key []byte) ConditionalStore {
	return s.shards[shardIndex(key, len(s.shards))]
}

func (s *shardedStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	return internal.WithStacks(s.route(key).Get(ctx, key))
}

func (s *shardedStore) Put(ctx context.Context, key []byte, value []byte) error {
	return errors.WithStack(s.route(key).Put(ctx, key, value))
}

func (s *shardedStore) Delete(ctx context.Context, key []byte) error {
	return errors.WithStack(s.route(key).Delete(ctx, key))
}

func (s *shardedStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	return internal.WithStacks(s.route(key).PutIfAbsent(ctx, key, value))
}

func (s *shardedStore) CompareAndSwap(ctx context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	return internal.WithStacks(s.route(key).CompareAndSwap(ctx, key, expected, value))
}

func (s *shardedStore) CompareAndDelete(ctx context.Context, key []byte, expected []byte) (bool, error) {
	return internal.WithStacks(s.route(key).CompareAndDelete(ctx, key, expected))
}

func (s *shardedStore) Name() string {
	names := make([]string, len(s.shards))
	for i, sh := range s.shards {
		names[i] = sh.Name()
	}
	return "sharded(" + strings.Join(names, ",") + ")"
}

func (s *shardedStore) Close() error {
	var errs error
	for _, sh := range s.shards {
		errs = errors.CombineErrors(errs, sh.Close())
	}
	return errors.WithStack(errs)
}

// Compact compacts every shard that keeps versions.
func (s *shardedStore) Compact(ctx context.Context, minTS uint64) error {
	var errs error
	for _, sh := range s.shards {
		if c, ok := sh.(Compactor); ok {
			errs = errors.CombineErrors(errs, c.Compact(ctx, minTS))
		}
	}
	return errors.WithStack(errs)
}
