package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bootjp/elasticgrid/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	cases := []struct {
		cfg  config.BackendConfig
		name string
	}{
		{cfg: config.BackendConfig{Kind: "memory"}, name: "memory"},
		{cfg: config.BackendConfig{Kind: "mvcc"}, name: "mvcc"},
		{cfg: config.BackendConfig{Kind: "bolt", Bolt: config.BoltConfig{Path: filepath.Join(dir, "b.db")}}, name: "bolt"},
		{cfg: config.BackendConfig{Kind: "pebble", Pebble: config.PebbleConfig{Path: filepath.Join(dir, "pebble")}}, name: "pebble"},
		{cfg: config.BackendConfig{Kind: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "s.db")}}, name: "sqlite"},
		{
			cfg: config.BackendConfig{Kind: "sharded", Shards: []config.BackendConfig{
				{Kind: "memory"},
				{Kind: "bolt", Bolt: config.BoltConfig{Path: filepath.Join(dir, "shard.db")}},
			}},
			name: "sharded(memory,bolt)",
		},
	}
	for _, tc := range cases {
		st, err := Open(ctx, tc.cfg)
		require.NoError(t, err, tc.cfg.Kind)
		assert.Equal(t, tc.name, st.Name())

		require.NoError(t, st.Put(ctx, []byte("k"), []byte("v")))
		v, err := st.Get(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
		require.NoError(t, st.Close())
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := Open(ctx, config.BackendConfig{Kind: "floppy"})
	require.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Open(ctx, config.BackendConfig{Kind: "sharded", Shards: []config.BackendConfig{
		{Kind: "memory"},
		{Kind: "floppy"},
	}})
	require.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Open(ctx, config.BackendConfig{Kind: "sharded"})
	require.ErrorIs(t, err, ErrNoShards)
}
