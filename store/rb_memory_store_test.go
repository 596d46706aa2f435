package store

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRbMemoryStore(t *testing.T) {
	ctx := context.Background()
	t.Parallel()
	st := NewRbMemoryStore()
	wg := &sync.WaitGroup{}
	for i := 0; i < 9999; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte(strconv.Itoa(i) + "foo")
			assert.NoError(t, st.Put(ctx, key, []byte("bar")))

			res, err := st.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, []byte("bar"), res)

			ok, err := st.CompareAndSwap(ctx, key, []byte("bar"), []byte("baz"))
			assert.NoError(t, err)
			assert.True(t, ok)

			ok, err = st.CompareAndDelete(ctx, key, []byte("baz"))
			assert.NoError(t, err)
			assert.True(t, ok)

			res, err = st.Get(ctx, key)
			assert.ErrorIs(t, err, ErrKeyNotFound)
			assert.Nil(t, res)
		}(i)
	}
	wg.Wait()
}

func TestRbMemoryStore_CopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewRbMemoryStore()

	val := []byte("abc")
	require.NoError(t, st.Put(ctx, []byte("k"), val))
	val[0] = 'x'

	got, err := st.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	got[0] = 'y'

	again, err := st.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestRbMemoryStore_Closed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewRbMemoryStore()
	require.NoError(t, st.Close())

	_, err := st.Get(ctx, []byte("k"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, st.Put(ctx, []byte("k"), []byte("v")), ErrClosed)
	_, err = st.PutIfAbsent(ctx, []byte("k"), []byte("v"))
	require.ErrorIs(t, err, ErrClosed)
}
