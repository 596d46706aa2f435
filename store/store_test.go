package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) ConditionalStore

func localStores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) ConditionalStore {
			return NewRbMemoryStore()
		},
		"mvcc": func(t *testing.T) ConditionalStore {
			return NewMVCCStore()
		},
		"bolt": func(t *testing.T) ConditionalStore {
			st, err := NewBoltStore(filepath.Join(t.TempDir(), "bolt.db"))
			require.NoError(t, err)
			return st
		},
		"pebble": func(t *testing.T) ConditionalStore {
			st, err := NewPebbleStore(filepath.Join(t.TempDir(), "pebble"))
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) ConditionalStore {
			st, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "grid.db"))
			require.NoError(t, err)
			return st
		},
		"sharded": func(t *testing.T) ConditionalStore {
			st, err := NewShardedStore(NewRbMemoryStore(), NewMVCCStore(), NewRbMemoryStore())
			require.NoError(t, err)
			return st
		},
	}
}

// runConditionalStoreContract checks the behaviour every backend shares.
func runConditionalStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("get put delete", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		t.Cleanup(func() { _ = st.Close() })

		_, err := st.Get(ctx, []byte("missing"))
		require.ErrorIs(t, err, ErrKeyNotFound)

		require.NoError(t, st.Put(ctx, []byte("k"), []byte("v1")))
		v, err := st.Get(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v)

		require.NoError(t, st.Put(ctx, []byte("k"), []byte("v2")))
		v, err = st.Get(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)

		require.NoError(t, st.Delete(ctx, []byte("k")))
		_, err = st.Get(ctx, []byte("k"))
		require.ErrorIs(t, err, ErrKeyNotFound)
		require.NoError(t, st.Delete(ctx, []byte("k")), "delete is idempotent")
	})

	t.Run("put if absent", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		t.Cleanup(func() { _ = st.Close() })

		ok, err := st.PutIfAbsent(ctx, []byte("k"), []byte("first"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.PutIfAbsent(ctx, []byte("k"), []byte("second"))
		require.NoError(t, err)
		assert.False(t, ok)

		v, err := st.Get(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), v)
	})

	t.Run("compare and swap", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		t.Cleanup(func() { _ = st.Close() })

		ok, err := st.CompareAndSwap(ctx, []byte("k"), []byte("x"), []byte("y"))
		require.NoError(t, err)
		assert.False(t, ok, "absent key never matches")

		require.NoError(t, st.Put(ctx, []byte("k"), []byte("a")))
		ok, err = st.CompareAndSwap(ctx, []byte("k"), []byte("stale"), []byte("b"))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = st.CompareAndSwap(ctx, []byte("k"), []byte("a"), []byte("b"))
		require.NoError(t, err)
		assert.True(t, ok)

		v, err := st.Get(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), v)
	})

	t.Run("compare and delete", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		t.Cleanup(func() { _ = st.Close() })

		require.NoError(t, st.Put(ctx, []byte("k"), []byte("a")))
		ok, err := st.CompareAndDelete(ctx, []byte("k"), []byte("b"))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = st.CompareAndDelete(ctx, []byte("k"), []byte("a"))
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = st.Get(ctx, []byte("k"))
		require.ErrorIs(t, err, ErrKeyNotFound)

		ok, err = st.CompareAndDelete(ctx, []byte("k"), []byte("a"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("one insert wins", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		t.Cleanup(func() { _ = st.Close() })

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := st.PutIfAbsent(ctx, []byte("race"), []byte{byte(i)})
				assert.NoError(t, err)
				if ok {
					winners.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("batch", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		t.Cleanup(func() { _ = st.Close() })
		bs, ok := st.(BatchStore)
		if !ok {
			t.Skip("not a batch store")
		}

		require.NoError(t, st.Put(ctx, []byte("gone"), []byte("x")))
		require.NoError(t, bs.ApplyBatch(ctx, []*Mutation{
			{Op: OpTypePut, Key: []byte("a"), Value: []byte("1")},
			{Op: OpTypeDelete, Key: []byte("gone")},
			{Op: OpTypePut, Key: []byte("b"), Value: []byte("1")},
			{Op: OpTypeDelete, Key: []byte("b")},
			{Op: OpTypeDelete, Key: []byte("c")},
			{Op: OpTypePut, Key: []byte("c"), Value: []byte("3")},
		}))

		v, err := st.Get(ctx, []byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)
		_, err = st.Get(ctx, []byte("gone"))
		require.ErrorIs(t, err, ErrKeyNotFound)
		_, err = st.Get(ctx, []byte("b"))
		require.ErrorIs(t, err, ErrKeyNotFound, "later mutations win")
		v, err = st.Get(ctx, []byte("c"))
		require.NoError(t, err)
		assert.Equal(t, []byte("3"), v)

		require.Error(t, bs.ApplyBatch(ctx, []*Mutation{{Op: OpType(42), Key: []byte("z")}}))
	})
}

func TestConditionalStores(t *testing.T) {
	t.Parallel()
	for name, factory := range localStores() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			runConditionalStoreContract(t, factory)
		})
	}
}

func TestShardedStore_RoutesConsistently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, b := NewRbMemoryStore(), NewRbMemoryStore()
	st, err := NewShardedStore(a, b)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		key := []byte{byte(i), 'k'}
		require.NoError(t, st.Put(ctx, key, []byte("v")))

		_, errA := a.Get(ctx, key)
		_, errB := b.Get(ctx, key)
		assert.True(t, (errA == nil) != (errB == nil), "key lands on exactly one shard")
		assert.Equal(t, shardIndex(key, 2), shardIndex(key, 2))
	}
	assert.Equal(t, "sharded(memory,memory)", st.Name())

	_, err = NewShardedStore()
	require.ErrorIs(t, err, ErrNoShards)
}

func TestOpType_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "put", OpTypePut.String())
	assert.Equal(t, "delete", OpTypeDelete.String())
}
