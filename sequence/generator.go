package sequence

import (
	"context"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/bootjp/elasticgrid/metrics"
	"github.com/cockroachdb/errors"
	"github.com/sethvargo/go-retry"
)

var (
	ErrSequenceExhausted = errors.New("sequence retries exhausted")
	ErrSequenceOverflow  = errors.New("sequence overflow")
	ErrInvalidIncrement  = errors.New("sequence increment must not be zero")
	ErrNoStore           = errors.New("sequence store is nil")

	errContention = errors.New("sequence contention")
)

const (
	defaultMaxAttempts   = 256
	defaultBaseBackoff   = time.Millisecond
	defaultMaxBackoff    = 50 * time.Millisecond
	defaultJitterPercent = 50
)

// Request names a counter and how it advances. The first value ever handed
// out is InitialValue.
type Request struct {
	Name         string
	InitialValue int64
	Increment    int64
}

// Generator runs the optimistic read / insert-if-absent / update-if-matches
// loop. It holds no lock of its own and is safe for concurrent use.
type Generator struct {
	store         Store
	maxAttempts   uint64
	baseBackoff   time.Duration
	maxBackoff    time.Duration
	jitterPercent uint64
	log           *slog.Logger
	metrics       *metrics.Metrics
}

type Option func(*Generator)

// WithMaxAttempts bounds how many times Next re-runs the loop after losing a
// race before it gives up with ErrSequenceExhausted.
func WithMaxAttempts(n uint64) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func WithBackoff(base, ceiling time.Duration, jitterPercent uint64) Option {
	return func(g *Generator) {
		g.baseBackoff = base
		g.maxBackoff = ceiling
		g.jitterPercent = jitterPercent
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

func NewGenerator(st Store, opts ...Option) (*Generator, error) {
	if st == nil {
		return nil, errors.WithStack(ErrNoStore)
	}
	g := &Generator{
		store:         st,
		maxAttempts:   defaultMaxAttempts,
		baseBackoff:   defaultBaseBackoff,
		maxBackoff:    defaultMaxBackoff,
		jitterPercent: defaultJitterPercent,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// backoff is stateful, so every Next call builds its own.
func (g *Generator) backoff() retry.Backoff {
	b := retry.NewExponential(g.baseBackoff)
	b = retry.WithJitterPercent(g.jitterPercent, b)
	b = retry.WithCappedDuration(g.maxBackoff, b)
	return retry.WithMaxRetries(g.maxAttempts-1, b)
}

// Next returns the current value of the counter and advances the stored
// value by Increment. Values are never returned twice, but a value may be
// skipped if the caller discards it.
func (g *Generator) Next(ctx context.Context, req Request) (int64, error) {
	if req.Increment == 0 {
		return 0, errors.WithStack(ErrInvalidIncrement)
	}

	var (
		value    int64
		attempts uint64
	)
	err := retry.Do(ctx, g.backoff(), func(ctx context.Context) error {
		attempts++
		v, won, err := g.attempt(ctx, req)
		if err != nil {
			return err
		}
		if !won {
			g.metrics.SequenceConflict(req.Name)
			g.log.DebugContext(ctx, "sequence contention",
				slog.String("sequence", req.Name),
				slog.Uint64("attempt", attempts),
			)
			return retry.RetryableError(errContention)
		}
		value = v
		return nil
	})
	switch {
	case errors.Is(err, errContention):
		return 0, errors.Wrapf(ErrSequenceExhausted, "sequence %s after %d attempts", req.Name, attempts)
	case err != nil:
		return 0, errors.WithStack(err)
	}

	g.metrics.SequenceValue(req.Name)
	return value, nil
}

// attempt runs one pass of the protocol. won is false when another writer
// advanced the counter between the read and the conditional update.
func (g *Generator) attempt(ctx context.Context, req Request) (int64, bool, error) {
	current, ok, err := g.store.ReadSequence(ctx, req.Name)
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	if !ok {
		if _, err := g.store.InsertSequenceIfAbsent(ctx, req.Name, req.InitialValue); err != nil {
			return 0, false, errors.WithStack(err)
		}
		// Re-read even after winning the insert: whichever insert won is
		// the value everyone proceeds from.
		current, ok, err = g.store.ReadSequence(ctx, req.Name)
		if err != nil {
			return 0, false, errors.WithStack(err)
		}
		if !ok {
			return 0, false, nil
		}
	}

	next, err := add(current, req.Increment)
	if err != nil {
		return 0, false, errors.Wrapf(err, "sequence %s at %d", req.Name, current)
	}
	applied, err := g.store.UpdateSequenceIfMatches(ctx, req.Name, current, next)
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	return current, applied, nil
}

func add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrSequenceOverflow
	}
	return a + b, nil
}
