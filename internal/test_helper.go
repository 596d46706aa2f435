// Package internal holds helpers shared by the backends.
package internal

import "github.com/cockroachdb/errors"

// WithStacks attaches the caller's stack to err and passes t through, so a
// two-value call can be returned directly.
func WithStacks[T any](t T, err error) (T, error) {
	//nolint:wrapcheck
	return t, errors.WithStackDepth(err, 1)
}
