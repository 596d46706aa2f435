package store

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/emirpasic/gods/maps/treemap"
)

// VersionedValue represents a single committed version in MVCC storage.
type VersionedValue struct {
	TS        uint64
	Value     []byte
	Tombstone bool
}

// MVCCStore is a ConditionalStore that keeps every committed version of a
// key so readers can pin a snapshot timestamp. Old versions stay until
// Compact drops them.
type MVCCStore interface {
	ConditionalStore
	BatchStore
	Compactor
	// GetAt returns the newest version whose commit timestamp is <= ts.
	GetAt(ctx context.Context, key []byte, ts uint64) ([]byte, error)
	// LastCommitTS returns the highest commit timestamp applied so far.
	LastCommitTS() uint64
}

// mvccStore is an in-memory MVCC implementation backed by a treemap for
// deterministic iteration order.
type mvccStore struct {
	tree         *treemap.Map // key []byte -> []VersionedValue
	mtx          sync.RWMutex
	log          *slog.Logger
	clock        *hlc
	lastCommitTS uint64
}

// NewMVCCStore creates a new MVCC-enabled in-memory store.
func NewMVCCStore(opts ...Option) MVCCStore {
	o := newOptions(opts)
	return &mvccStore{
		tree:  treemap.NewWith(byteSliceComparator),
		log:   o.log,
		clock: newHLC(),
	}
}

var _ MVCCStore = (*mvccStore)(nil)

// ---- helpers guarded by caller locks ----

func latestVisible(vs []VersionedValue, ts uint64) (VersionedValue, bool) {
	for i := len(vs) - 1; i >= 0; i-- {
		if vs[i].TS <= ts {
			return vs[i], true
		}
	}
	return VersionedValue{}, false
}

func (s *mvccStore) versionsLocked(key []byte) []VersionedValue {
	v, ok := s.tree.Get(key)
	if !ok {
		return nil
	}
	vs, _ := v.([]VersionedValue)
	return vs
}

func (s *mvccStore) latestVersionLocked(key []byte) (VersionedValue, bool) {
	vs := s.versionsLocked(key)
	if len(vs) == 0 {
		return VersionedValue{}, false
	}
	return vs[len(vs)-1], true
}

// currentLocked returns the live value of key, skipping tombstones.
func (s *mvccStore) currentLocked(key []byte) ([]byte, bool) {
	ver, ok := s.latestVersionLocked(key)
	if !ok || ver.Tombstone {
		return nil, false
	}
	return ver.Value, true
}

func (s *mvccStore) nextCommitTSLocked() uint64 {
	ts := s.clock.Now()
	if ts <= s.lastCommitTS {
		ts = s.lastCommitTS + 1
		s.clock.observe(ts)
	}
	s.lastCommitTS = ts
	return ts
}

func (s *mvccStore) appendVersionLocked(key []byte, ver VersionedValue) {
	versions := append(s.versionsLocked(key), ver)
	s.tree.Put(bytes.Clone(key), versions)
}

func (s *mvccStore) putVersionLocked(key, value []byte, commitTS uint64) {
	s.appendVersionLocked(key, VersionedValue{TS: commitTS, Value: bytes.Clone(value)})
}

func (s *mvccStore) deleteVersionLocked(key []byte, commitTS uint64) {
	if _, ok := s.currentLocked(key); !ok {
		return
	}
	s.appendVersionLocked(key, VersionedValue{TS: commitTS, Tombstone: true})
}

// ---- Store methods ----

func (s *mvccStore) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	v, ok := s.currentLocked(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (s *mvccStore) Put(ctx context.Context, key []byte, value []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	commitTS := s.nextCommitTSLocked()
	s.putVersionLocked(key, value, commitTS)
	s.log.DebugContext(ctx, "put",
		slog.String("key", string(key)),
		slog.Uint64("commit_ts", commitTS),
	)
	return nil
}

func (s *mvccStore) Delete(ctx context.Context, key []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	commitTS := s.nextCommitTSLocked()
	s.deleteVersionLocked(key, commitTS)
	s.log.DebugContext(ctx, "delete",
		slog.String("key", string(key)),
		slog.Uint64("commit_ts", commitTS),
	)
	return nil
}

func (s *mvccStore) PutIfAbsent(_ context.Context, key []byte, value []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.currentLocked(key); ok {
		return false, nil
	}
	s.putVersionLocked(key, value, s.nextCommitTSLocked())
	return true, nil
}

func (s *mvccStore) CompareAndSwap(_ context.Context, key []byte, expected []byte, value []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	cur, ok := s.currentLocked(key)
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	s.putVersionLocked(key, value, s.nextCommitTSLocked())
	return true, nil
}

func (s *mvccStore) CompareAndDelete(_ context.Context, key []byte, expected []byte) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	cur, ok := s.currentLocked(key)
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	s.deleteVersionLocked(key, s.nextCommitTSLocked())
	return true, nil
}

// ---- MVCCStore methods ----

func (s *mvccStore) GetAt(_ context.Context, key []byte, ts uint64) ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	ver, ok := latestVisible(s.versionsLocked(key), ts)
	if !ok || ver.Tombstone {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(ver.Value), nil
}

func (s *mvccStore) LastCommitTS() uint64 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.lastCommitTS
}

// ApplyBatch commits every mutation at one timestamp under the store lock.
func (s *mvccStore) ApplyBatch(ctx context.Context, mutations []*Mutation) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, mut := range mutations {
		if mut.Op != OpTypePut && mut.Op != OpTypeDelete {
			return errors.WithStack(ErrUnknownOp)
		}
	}

	commitTS := s.nextCommitTSLocked()
	for _, mut := range mutations {
		switch mut.Op {
		case OpTypePut:
			s.putVersionLocked(mut.Key, mut.Value, commitTS)
		case OpTypeDelete:
			s.deleteVersionLocked(mut.Key, commitTS)
		}
		s.log.DebugContext(ctx, "apply mutation",
			slog.String("key", string(mut.Key)),
			slog.Uint64("commit_ts", commitTS),
			slog.Bool("delete", mut.Op == OpTypeDelete),
		)
	}
	return nil
}

func (s *mvccStore) Compact(ctx context.Context, minTS uint64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var drop [][]byte
	removed := 0
	it := s.tree.Iterator()
	for it.Next() {
		vs, _ := it.Value().([]VersionedValue)
		keep := compactVersions(vs, minTS)
		removed += len(vs) - len(keep)
		key, _ := it.Key().([]byte)
		if len(keep) == 0 {
			drop = append(drop, key)
			continue
		}
		if len(keep) != len(vs) {
			s.tree.Put(key, keep)
		}
	}
	for _, key := range drop {
		s.tree.Remove(key)
	}
	s.log.InfoContext(ctx, "compact",
		slog.Uint64("min_ts", minTS),
		slog.Int("removed_versions", removed),
		slog.Int("removed_keys", len(drop)),
	)
	return nil
}

// compactVersions keeps the newest version at or below minTS plus every
// newer one. A tombstone that is the only survivor is dropped entirely.
func compactVersions(vs []VersionedValue, minTS uint64) []VersionedValue {
	pivot := -1
	for i := len(vs) - 1; i >= 0; i-- {
		if vs[i].TS <= minTS {
			pivot = i
			break
		}
	}
	if pivot <= 0 {
		if pivot == 0 && len(vs) == 1 && vs[0].Tombstone {
			return nil
		}
		return vs
	}
	keep := append([]VersionedValue(nil), vs[pivot:]...)
	if len(keep) == 1 && keep[0].Tombstone {
		return nil
	}
	return keep
}

func (s *mvccStore) Name() string {
	return "mvcc"
}

func (s *mvccStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.tree.Clear()
	return nil
}
