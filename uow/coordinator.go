// Package uow coordinates units of work: a begin-or-first-use boundary, a
// commit-or-rollback end, and observers told how each one ended.
package uow

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var ErrNoActiveUnitOfWork = errors.New("no active unit of work")

// Observer is notified once per unit of work, after it ends.
type Observer interface {
	AfterCompletion(ctx context.Context, c Coordinator, successful bool) error
}

type ObserverFunc func(ctx context.Context, c Coordinator, successful bool) error

func (f ObserverFunc) AfterCompletion(ctx context.Context, c Coordinator, successful bool) error {
	return f(ctx, c, successful)
}

// Coordinator drives a sequence of units of work, one at a time.
type Coordinator interface {
	// ID identifies the active unit of work; empty when none is active.
	ID() string
	// Pulse must be called before any work; the first pulse starts a unit
	// of work.
	Pulse(ctx context.Context) error
	IsActive() bool
	AddObserver(o Observer)
	// Scope holds values that live exactly as long as the active unit of
	// work. It is nil when none is active.
	Scope() *Scope
	// Commit and Rollback end a unit of work this process started.
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Complete ends a unit of work coordinated elsewhere. It is a no-op if
	// nothing is active.
	Complete(ctx context.Context, successful bool) error
}

// Session is the plain Coordinator. It is long lived and reusable across
// sequential units of work.
type Session struct {
	mu         sync.Mutex
	id         string
	scope      *Scope
	completing bool
	observers  []Observer
	log        *slog.Logger
}

type SessionOption func(*Session)

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Coordinator = (*Session)(nil)

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope != nil
}

func (s *Session) Scope() *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Session) Pulse(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scope != nil {
		return nil
	}
	s.id = uuid.NewString()
	s.scope = newScope()
	s.log.DebugContext(ctx, "unit of work started", slog.String("uow", s.id))
	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	if !s.IsActive() {
		return errors.WithStack(ErrNoActiveUnitOfWork)
	}
	return s.Complete(ctx, true)
}

func (s *Session) Rollback(ctx context.Context) error {
	if !s.IsActive() {
		return errors.WithStack(ErrNoActiveUnitOfWork)
	}
	return s.Complete(ctx, false)
}

// Complete notifies every observer, then clears the unit of work. Observer
// errors are returned to the caller, all of them combined.
func (s *Session) Complete(ctx context.Context, successful bool) error {
	s.mu.Lock()
	if s.scope == nil || s.completing {
		s.mu.Unlock()
		return nil
	}
	s.completing = true
	id := s.id
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	// The unit of work ends even if an observer panics.
	defer func() {
		s.mu.Lock()
		s.scope = nil
		s.id = ""
		s.completing = false
		s.mu.Unlock()
	}()

	var errs error
	for _, o := range observers {
		errs = errors.CombineErrors(errs, o.AfterCompletion(ctx, s, successful))
	}

	s.log.DebugContext(ctx, "unit of work completed",
		slog.String("uow", id),
		slog.Bool("successful", successful),
	)
	return errs
}
