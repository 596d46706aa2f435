package store

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
)

var ErrKeyNotFound = errors.New("not found")
var ErrUnknownOp = errors.New("unknown op")
var ErrNotSupported = errors.New("not supported")
var ErrClosed = errors.New("store closed")

// OpType describes a mutation kind.
type OpType int

const (
	OpTypePut OpType = iota
	OpTypeDelete
)

func (o OpType) String() string {
	switch o {
	case OpTypePut:
		return "put"
	case OpTypeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Store is the minimal single-key surface every backend provides.
type Store interface {
	// Get returns ErrKeyNotFound when the key has no value.
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key []byte, value []byte) error
	// Delete is idempotent.
	Delete(ctx context.Context, key []byte) error
	Name() string
	Close() error
}

// ConditionalStore adds the single-key atomic primitives that optimistic
// locking and sequence generation are built on. A false result means another
// writer got there first; it is not an error.
type ConditionalStore interface {
	Store
	// PutIfAbsent writes value only when key currently has no value.
	PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error)
	// CompareAndSwap writes value only when the current value equals expected byte for byte.
	CompareAndSwap(ctx context.Context, key []byte, expected []byte, value []byte) (bool, error)
	// CompareAndDelete removes key only when the current value equals expected.
	CompareAndDelete(ctx context.Context, key []byte, expected []byte) (bool, error)
}

// BatchStore is implemented by backends that can apply several mutations
// all-or-nothing.
type BatchStore interface {
	ApplyBatch(ctx context.Context, mutations []*Mutation) error
}

// Compactor is implemented by backends that keep superseded versions. Compact
// drops every version older than minTS that no read at or after minTS can
// observe.
type Compactor interface {
	Compact(ctx context.Context, minTS uint64) error
}

// Mutation is one staged write of a batch.
type Mutation struct {
	Op    OpType
	Key   []byte
	Value []byte
}

// Option configures a backend.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger replaces the backend's default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
