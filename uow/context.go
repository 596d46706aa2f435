package uow

import (
	"context"

	"github.com/cockroachdb/errors"
)

type coordinatorKey struct{}

// WithCoordinator returns a context carrying c.
func WithCoordinator(ctx context.Context, c Coordinator) context.Context {
	return context.WithValue(ctx, coordinatorKey{}, c)
}

func FromContext(ctx context.Context) (Coordinator, bool) {
	c, ok := ctx.Value(coordinatorKey{}).(Coordinator)
	return c, ok && c != nil
}

// Run executes fn inside a unit of work on c: it pulses, commits when fn
// returns nil and rolls back otherwise. A panic in fn rolls back and is
// re-raised.
func Run(ctx context.Context, c Coordinator, fn func(ctx context.Context) error) (err error) {
	if err := c.Pulse(ctx); err != nil {
		return err
	}
	ctx = WithCoordinator(ctx, c)

	defer func() {
		if r := recover(); r != nil {
			_ = c.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		return errors.CombineErrors(err, c.Rollback(ctx))
	}
	return c.Commit(ctx)
}
