package store

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisStore wraps an existing go-redis client. Compare operations use
// WATCH/MULTI/EXEC so they need a server that honours optimistic
// transactions.
func NewRedisStore(rdb *redis.Client, opts ...Option) ConditionalStore {
	o := newOptions(opts)
	return &redisStore{rdb: rdb, log: o.log}
}

var _ ConditionalStore = (*redisStore)(nil)

func (s *redisStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := s.rdb.Get(ctx, string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

func (s *redisStore) Put(ctx context.Context, key []byte, value []byte) error {
	return errors.WithStack(s.rdb.Set(ctx, string(key), value, 0).Err())
}

func (s *redisStore) Delete(ctx context.Context, key []byte) error {
	return errors.WithStack(s.rdb.Del(ctx, string(key)).Err())
}

func (s *redisStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, string(key), value, 0).Result()
	if err != nil {
		return false, errors.WithStack(err)
	}
	return ok, nil
}

func (s *redisStore) CompareAndSwap(ctx context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	return s.watchAndApply(ctx, key, expected, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, string(key), value, 0)
	})
}

func (s *redisStore) CompareAndDelete(ctx context.Context, key []byte, expected []byte) (bool, error) {
	return s.watchAndApply(ctx, key, expected, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, string(key))
	})
}

// watchAndApply reads key under WATCH and queues write only if the value
// still equals expected. A concurrent write aborts EXEC, which is reported
// as not applied.
func (s *redisStore) watchAndApply(ctx context.Context, key []byte, expected []byte, write func(redis.Pipeliner)) (bool, error) {
	applied := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, string(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}
		if !bytes.Equal(cur, expected) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		if err != nil {
			return err //nolint:wrapcheck
		}
		applied = true
		return nil
	}, string(key))

	if errors.Is(err, redis.TxFailedErr) {
		s.log.DebugContext(ctx, "watched key changed", slog.String("key", string(key)))
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	return applied, nil
}

func (s *redisStore) Name() string {
	return "redis"
}

func (s *redisStore) Close() error {
	return errors.WithStack(s.rdb.Close())
}
