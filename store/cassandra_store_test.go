package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set ELASTICGRID_CASSANDRA_HOSTS (comma separated) to run against a live
// cluster.
func cassandraHosts(t *testing.T) []string {
	t.Helper()
	hosts := os.Getenv("ELASTICGRID_CASSANDRA_HOSTS")
	if hosts == "" {
		t.Skip("ELASTICGRID_CASSANDRA_HOSTS not set")
	}
	return strings.Split(hosts, ",")
}

func newTestCassandraStore(t *testing.T, hosts []string) CassandraStore {
	t.Helper()
	ctx := context.Background()
	keyspace := "elasticgrid_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	boot := gocql.NewCluster(hosts...)
	boot.Timeout = 10 * time.Second
	bootSession, err := boot.CreateSession()
	require.NoError(t, err)
	require.NoError(t, CreateCassandraKeyspace(ctx, bootSession, keyspace, 1))
	t.Cleanup(func() {
		_ = bootSession.Query("DROP KEYSPACE IF EXISTS " + keyspace).Exec()
		bootSession.Close()
	})

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second
	session, err := cluster.CreateSession()
	require.NoError(t, err)
	st, err := NewCassandraStore(ctx, session)
	require.NoError(t, err)
	return st
}

func TestCassandraStore_Contract(t *testing.T) {
	hosts := cassandraHosts(t)
	st := newTestCassandraStore(t, hosts)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	ok, err := st.PutIfAbsent(ctx, []byte("k"), []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.PutIfAbsent(ctx, []byte("k"), []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.CompareAndSwap(ctx, []byte("k"), []byte("a"), []byte("c"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.CompareAndDelete(ctx, []byte("k"), []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := st.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), v)

	ok, err = st.InsertSequenceIfAbsent(ctx, "s", 10)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.UpdateSequenceIfMatches(ctx, "s", 10, 11)
	require.NoError(t, err)
	assert.True(t, ok)
	seq, found, err := st.ReadSequence(ctx, "s")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(11), seq)

	require.NoError(t, st.ApplyBatch(ctx, []*Mutation{
		{Op: OpTypePut, Key: []byte("x"), Value: []byte("1")},
		{Op: OpTypeDelete, Key: []byte("k")},
	}))
	_, err = st.Get(ctx, []byte("k"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}
