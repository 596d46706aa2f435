package compensation

import (
	"log/slog"

	"github.com/bootjp/elasticgrid/metrics"
	"github.com/cockroachdb/errors"
)

var (
	ErrNoErrorHandler = errors.New("no error handler registered")
	ErrNoDelegate     = errors.New("no dialect to decorate")
	ErrNoCoordinator  = errors.New("no unit of work coordinator")
)

type options struct {
	log     *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newOptions(opts []Option) *options {
	o := &options{log: defaultLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
