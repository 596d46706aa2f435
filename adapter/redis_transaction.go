package adapter

import (
	"log/slog"
	"strings"

	"github.com/tidwall/redcon"
)

// WATCH/MULTI/EXEC/DISCARD handling
func (r *RedisServer) watch(conn redcon.Conn, cmd redcon.Command) {
	state := getConnState(conn)
	if state.inTxn {
		conn.WriteError("ERR WATCH inside MULTI is not allowed")
		return
	}
	if state.watched == nil {
		state.watched = map[string]uint64{}
	}

	r.mu.Lock()
	for _, key := range cmd.Args[1:] {
		k := string(key)
		if _, ok := state.watched[k]; ok {
			continue
		}
		r.watchers[k]++
		state.watched[k] = r.versions[k]
	}
	r.mu.Unlock()

	conn.WriteString("OK")
}

func (r *RedisServer) unwatch(conn redcon.Conn, _ redcon.Command) {
	state := getConnState(conn)
	r.mu.Lock()
	r.forget(state.watched)
	r.mu.Unlock()
	state.watched = nil
	conn.WriteString("OK")
}

func (r *RedisServer) multi(conn redcon.Conn, _ redcon.Command) {
	state := getConnState(conn)
	if state.inTxn {
		conn.WriteError("ERR MULTI calls can not be nested")
		return
	}
	state.inTxn = true
	state.dirty = false
	state.queue = nil
	conn.WriteString("OK")
}

func (r *RedisServer) discard(conn redcon.Conn, _ redcon.Command) {
	state := getConnState(conn)
	if !state.inTxn {
		conn.WriteError("ERR DISCARD without MULTI")
		return
	}
	r.mu.Lock()
	r.forget(state.watched)
	r.mu.Unlock()
	reset(state)
	conn.WriteString("OK")
}

func reset(state *connState) {
	state.inTxn = false
	state.dirty = false
	state.queue = nil
	state.watched = nil
}

// exec runs the queued commands while holding the server lock, so no write
// from another connection interleaves with them. A watched key that changed
// since WATCH aborts the transaction with a null reply.
func (r *RedisServer) exec(conn redcon.Conn, _ redcon.Command) {
	state := getConnState(conn)
	if !state.inTxn {
		conn.WriteError("ERR EXEC without MULTI")
		return
	}
	queue, watched, dirty := state.queue, state.watched, state.dirty
	reset(state)

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.forget(watched)

	if dirty {
		conn.WriteError("EXECABORT Transaction discarded because of previous errors.")
		return
	}

	for k, v := range watched {
		if r.versions[k] != v {
			r.log.Debug("exec aborted by watched key", slog.String("key", k))
			conn.WriteRaw([]byte("*-1\r\n"))
			return
		}
	}

	conn.WriteArray(len(queue))
	for _, cmd := range queue {
		// Every queued command was validated against route before queueing.
		c := r.route[strings.ToUpper(string(cmd.Args[0]))]
		c.fn(conn, cmd)
	}
}
