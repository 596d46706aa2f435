package adapter

import (
	"net"
	"testing"

	"github.com/bootjp/elasticgrid/store"
	"github.com/stretchr/testify/require"
)

// StartTestServer serves st on a loopback port until the test ends.
func StartTestServer(t testing.TB, st store.ConditionalStore) *RedisServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewRedisServer(l, st)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run()
	}()
	t.Cleanup(func() {
		srv.Stop()
		<-done
	})
	return srv
}
