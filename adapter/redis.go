// Package adapter serves a store.ConditionalStore to Redis clients.
package adapter

import (
	"context"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/bootjp/elasticgrid/store"
	"github.com/cockroachdb/errors"
	"github.com/tidwall/redcon"
)

//nolint:mnd
var argsLen = map[string]int{
	"GET":     2,
	"SET":     -3, // negative means minimum number of args
	"SETNX":   3,
	"DEL":     -2,
	"EXISTS":  -2,
	"PING":    -1,
	"WATCH":   -2,
	"UNWATCH": 1,
	"MULTI":   1,
	"EXEC":    1,
	"DISCARD": 1,
}

type command struct {
	fn func(conn redcon.Conn, cmd redcon.Command)
	// write commands run under the server lock and bump key versions.
	write bool
}

// RedisServer speaks enough RESP for go-redis to use a ConditionalStore as
// a plain key/value server with optimistic WATCH/MULTI/EXEC. Key versions
// only track writes made through this server, and only while at least one
// connection watches the key.
type RedisServer struct {
	listen net.Listener
	store  store.ConditionalStore
	log    *slog.Logger

	mu       sync.Mutex
	versions map[string]uint64
	watchers map[string]int

	route map[string]command
}

type RedisServerOption func(*RedisServer)

func WithLogger(l *slog.Logger) RedisServerOption {
	return func(r *RedisServer) {
		if l != nil {
			r.log = l
		}
	}
}

type connState struct {
	inTxn   bool
	dirty   bool
	queue   []redcon.Command
	watched map[string]uint64
}

func NewRedisServer(listen net.Listener, st store.ConditionalStore, opts ...RedisServerOption) *RedisServer {
	r := &RedisServer{
		listen:   listen,
		store:    st,
		versions: map[string]uint64{},
		watchers: map[string]int{},
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.route = map[string]command{
		"PING":    {fn: r.ping},
		"GET":     {fn: r.get},
		"EXISTS":  {fn: r.exists},
		"SET":     {fn: r.set, write: true},
		"SETNX":   {fn: r.setnx, write: true},
		"DEL":     {fn: r.del, write: true},
		"WATCH":   {fn: r.watch},
		"UNWATCH": {fn: r.unwatch},
		"MULTI":   {fn: r.multi},
		"EXEC":    {fn: r.exec},
		"DISCARD": {fn: r.discard},
	}

	return r
}

func getConnState(conn redcon.Conn) *connState {
	if ctx := conn.Context(); ctx != nil {
		if st, ok := ctx.(*connState); ok {
			return st
		}
	}
	st := &connState{}
	conn.SetContext(st)
	return st
}

func isTxnControl(name string) bool {
	switch name {
	case "EXEC", "DISCARD", "MULTI", "WATCH":
		return true
	}
	return false
}

func (r *RedisServer) Run() error {
	err := redcon.Serve(r.listen,
		func(conn redcon.Conn, cmd redcon.Command) {
			state := getConnState(conn)
			name := strings.ToUpper(string(cmd.Args[0]))
			c, ok := r.route[name]
			if !ok {
				state.dirty = state.inTxn
				conn.WriteError("ERR unsupported command '" + string(cmd.Args[0]) + "'")
				return
			}

			if err := validateCmd(cmd); err != nil {
				state.dirty = state.inTxn
				conn.WriteError(err.Error())
				return
			}

			if state.inTxn && !isTxnControl(name) {
				state.queue = append(state.queue, cloneCommand(cmd))
				conn.WriteString("QUEUED")
				return
			}

			r.dispatch(c, conn, cmd)
		},
		func(conn redcon.Conn) bool {
			r.log.Debug("accept", slog.String("remote", conn.RemoteAddr()))
			return true
		},
		func(conn redcon.Conn, err error) {
			if st, ok := conn.Context().(*connState); ok {
				r.mu.Lock()
				r.forget(st.watched)
				st.watched = nil
				r.mu.Unlock()
			}
			if err != nil {
				r.log.Debug("closed", slog.String("remote", conn.RemoteAddr()), slog.Any("error", err))
			}
		})

	return errors.WithStack(err)
}

func (r *RedisServer) dispatch(c command, conn redcon.Conn, cmd redcon.Command) {
	if !c.write {
		c.fn(conn, cmd)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c.fn(conn, cmd)
}

// cloneCommand copies the arguments out of the connection's read buffer so
// the command can be kept until EXEC.
func cloneCommand(cmd redcon.Command) redcon.Command {
	args := make([][]byte, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = append([]byte(nil), a...)
	}
	return redcon.Command{Raw: append([]byte(nil), cmd.Raw...), Args: args}
}

// Addr is the address the server listens on.
func (r *RedisServer) Addr() string {
	return r.listen.Addr().String()
}

func (r *RedisServer) Stop() {
	_ = r.listen.Close()
}

func validateCmd(cmd redcon.Command) error {
	name := strings.ToUpper(string(cmd.Args[0]))
	expected, ok := argsLen[name]
	if !ok {
		return nil
	}

	switch {
	case expected > 0 && len(cmd.Args) != expected:
		//nolint:wrapcheck
		return errors.WithStack(errors.Newf("ERR wrong number of arguments for '%s' command", string(cmd.Args[0])))
	case expected < 0 && len(cmd.Args) < -expected:
		return errors.WithStack(errors.Newf("ERR wrong number of arguments for '%s' command", string(cmd.Args[0])))
	}
	return nil
}

// touch must be called with r.mu held.
func (r *RedisServer) touch(key []byte) {
	k := string(key)
	if r.watchers[k] == 0 {
		return
	}
	r.versions[k]++
}

// forget drops one watch on each key, and the version of every key nobody
// watches any more. Must be called with r.mu held.
func (r *RedisServer) forget(watched map[string]uint64) {
	for k := range watched {
		r.watchers[k]--
		if r.watchers[k] > 0 {
			continue
		}
		delete(r.watchers, k)
		delete(r.versions, k)
	}
}

// tracked is the number of keys the server holds watch state for.
func (r *RedisServer) tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

func (r *RedisServer) ping(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) > 1 {
		conn.WriteBulk(cmd.Args[1])
		return
	}
	conn.WriteString("PONG")
}

func (r *RedisServer) get(conn redcon.Conn, cmd redcon.Command) {
	v, err := r.store.Get(context.Background(), cmd.Args[1])
	if err != nil {
		switch {
		case errors.Is(err, store.ErrKeyNotFound):
			conn.WriteNull()
		default:
			conn.WriteError(err.Error())
		}
		return
	}
	conn.WriteBulk(v)
}

// set understands the NX flag only.
func (r *RedisServer) set(conn redcon.Conn, cmd redcon.Command) {
	nx := false
	for _, opt := range cmd.Args[3:] {
		if !strings.EqualFold(string(opt), "NX") {
			conn.WriteError("ERR syntax error")
			return
		}
		nx = true
	}

	ctx := context.Background()
	if nx {
		ok, err := r.store.PutIfAbsent(ctx, cmd.Args[1], cmd.Args[2])
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		if !ok {
			conn.WriteNull()
			return
		}
		r.touch(cmd.Args[1])
		conn.WriteString("OK")
		return
	}

	if err := r.store.Put(ctx, cmd.Args[1], cmd.Args[2]); err != nil {
		conn.WriteError(err.Error())
		return
	}
	r.touch(cmd.Args[1])
	conn.WriteString("OK")
}

func (r *RedisServer) setnx(conn redcon.Conn, cmd redcon.Command) {
	ok, err := r.store.PutIfAbsent(context.Background(), cmd.Args[1], cmd.Args[2])
	if err != nil {
		conn.WriteError(err.Error())
		return
	}
	if !ok {
		conn.WriteInt(0)
		return
	}
	r.touch(cmd.Args[1])
	conn.WriteInt(1)
}

func (r *RedisServer) existing(ctx context.Context, key []byte) (bool, error) {
	_, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrKeyNotFound):
		return false, nil
	default:
		return false, errors.WithStack(err)
	}
}

func (r *RedisServer) del(conn redcon.Conn, cmd redcon.Command) {
	ctx := context.Background()
	removed := 0
	for _, key := range cmd.Args[1:] {
		ok, err := r.existing(ctx, key)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		if !ok {
			continue
		}
		if err := r.store.Delete(ctx, key); err != nil {
			conn.WriteError(err.Error())
			return
		}
		r.touch(key)
		removed++
	}
	conn.WriteInt(removed)
}

func (r *RedisServer) exists(conn redcon.Conn, cmd redcon.Command) {
	ctx := context.Background()
	n := 0
	for _, key := range cmd.Args[1:] {
		ok, err := r.existing(ctx, key)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		if ok {
			n++
		}
	}
	conn.WriteInt(n)
}
