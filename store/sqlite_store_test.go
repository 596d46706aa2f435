package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Sequences(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "seq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, ok, err := st.ReadSequence(ctx, "s")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.InsertSequenceIfAbsent(ctx, "s", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.InsertSequenceIfAbsent(ctx, "s", 7)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.UpdateSequenceIfMatches(ctx, "s", 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.UpdateSequenceIfMatches(ctx, "s", 1, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := st.ReadSequence(ctx, "s")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, st.Close())

	st, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	v, err := st.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}
