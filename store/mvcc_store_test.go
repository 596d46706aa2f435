package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMVCCStore_GetAtSeesSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMVCCStore()
	key := []byte("k")

	require.NoError(t, st.Put(ctx, key, []byte("v1")))
	ts1 := st.LastCommitTS()

	require.NoError(t, st.Put(ctx, key, []byte("v2")))
	ts2 := st.LastCommitTS()
	require.Greater(t, ts2, ts1)

	require.NoError(t, st.Delete(ctx, key))
	ts3 := st.LastCommitTS()
	require.Greater(t, ts3, ts2)

	v, err := st.GetAt(ctx, key, ts1)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	v, err = st.GetAt(ctx, key, ts2)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	_, err = st.GetAt(ctx, key, ts3)
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = st.GetAt(ctx, key, ts1-1)
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = st.Get(ctx, key)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMVCCStore_ApplyBatchSharesOneTimestamp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMVCCStore()

	require.NoError(t, st.Put(ctx, []byte("a"), []byte("1")))
	before := st.LastCommitTS()

	require.NoError(t, st.ApplyBatch(ctx, []*Mutation{
		{Op: OpTypePut, Key: []byte("b"), Value: []byte("2")},
		{Op: OpTypeDelete, Key: []byte("a")},
	}))
	commitTS := st.LastCommitTS()
	assert.Greater(t, commitTS, before)

	v, err := st.GetAt(ctx, []byte("a"), commitTS-1)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	_, err = st.GetAt(ctx, []byte("b"), commitTS-1)
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = st.GetAt(ctx, []byte("a"), commitTS)
	require.ErrorIs(t, err, ErrKeyNotFound)
	v, err = st.GetAt(ctx, []byte("b"), commitTS)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	err = st.ApplyBatch(ctx, []*Mutation{
		{Op: OpTypePut, Key: []byte("c"), Value: []byte("3")},
		{Op: OpType(9), Key: []byte("d")},
	})
	require.ErrorIs(t, err, ErrUnknownOp)
	_, err = st.Get(ctx, []byte("c"))
	require.ErrorIs(t, err, ErrKeyNotFound, "a rejected batch writes nothing")
	assert.Equal(t, commitTS, st.LastCommitTS())
}

func TestMVCCStore_Compact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMVCCStore()
	key := []byte("key1")

	var ts []uint64
	for _, v := range []string{"v10", "v20", "v30", "v40"} {
		require.NoError(t, st.Put(ctx, key, []byte(v)))
		ts = append(ts, st.LastCommitTS())
	}

	// Keep the newest version at or below the horizon and everything after.
	require.NoError(t, st.Compact(ctx, ts[1]))

	_, err := st.GetAt(ctx, key, ts[0])
	assert.ErrorIs(t, err, ErrKeyNotFound, "versions older than the horizon are gone")

	v, err := st.GetAt(ctx, key, ts[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("v20"), v)

	v, err = st.GetAt(ctx, key, ts[2])
	require.NoError(t, err)
	assert.Equal(t, []byte("v30"), v)

	v, err = st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v40"), v)
}

func TestMVCCStore_CompactDropsDeletedKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMVCCStore()
	key := []byte("k")

	require.NoError(t, st.Put(ctx, key, []byte("v")))
	require.NoError(t, st.Delete(ctx, key))
	require.NoError(t, st.Compact(ctx, st.LastCommitTS()))

	_, err := st.GetAt(ctx, key, 0)
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Zero(t, st.(*mvccStore).tree.Size(), "the key's history is gone")
}

func TestShardedStore_CompactReachesVersionedShards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mv := NewMVCCStore()
	st, err := NewShardedStore(NewRbMemoryStore(), mv)
	require.NoError(t, err)

	var key []byte
	for i := 0; ; i++ {
		key = []byte{byte(i)}
		if shardIndex(key, 2) == 1 {
			break
		}
	}
	require.NoError(t, st.Put(ctx, key, []byte("old")))
	old := mv.LastCommitTS()
	require.NoError(t, st.Put(ctx, key, []byte("new")))

	require.NoError(t, st.(Compactor).Compact(ctx, mv.LastCommitTS()))
	_, err = mv.GetAt(ctx, key, old)
	require.ErrorIs(t, err, ErrKeyNotFound)
	v, err := st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}

func TestCompactVersions(t *testing.T) {
	t.Parallel()
	vs := []VersionedValue{{TS: 10}, {TS: 20}, {TS: 30}}

	assert.Equal(t, vs, compactVersions(vs, 5))
	assert.Equal(t, vs, compactVersions(vs, 10))
	assert.Equal(t, vs[1:], compactVersions(vs, 25))
	assert.Equal(t, vs[2:], compactVersions(vs, 100))
	assert.Nil(t, compactVersions([]VersionedValue{{TS: 10}, {TS: 20, Tombstone: true}}, 20))
}

func TestMVCCStore_ConditionalWritesAdvanceVersions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMVCCStore()
	key := []byte("k")

	ok, err := st.PutIfAbsent(ctx, key, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	before := st.LastCommitTS()

	ok, err = st.CompareAndSwap(ctx, key, []byte("a"), []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)

	v, err := st.GetAt(ctx, key, before)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	ok, err = st.CompareAndSwap(ctx, key, []byte("a"), []byte("c"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, st.LastCommitTS(), before)
}
