package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bootjp/elasticgrid/adapter"
	"github.com/bootjp/elasticgrid/config"
	"github.com/bootjp/elasticgrid/metrics"
	"github.com/bootjp/elasticgrid/store"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const metricsShutdownTimeout = 5 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured backend over the Redis protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, root.cfg.Backend, store.WithLogger(root.log))
			if err != nil {
				return err
			}
			defer func() { err = closeStore(err, st) }()
			return serve(ctx, root, st)
		},
	}
}

func serve(ctx context.Context, root *rootOptions, st store.ConditionalStore) error {
	var lc net.ListenConfig
	eg, runCtx := errgroup.WithContext(ctx)

	l, err := lc.Listen(runCtx, "tcp", root.cfg.Gateway.Listen)
	if err != nil {
		return errors.WithStack(err)
	}
	rd := adapter.NewRedisServer(l, st, adapter.WithLogger(root.log))
	eg.Go(redisShutdownTask(runCtx, root.log, rd))
	eg.Go(redisServeTask(root.log, rd, st.Name()))

	if c, ok := st.(store.Compactor); ok && root.cfg.Backend.MVCC.Retention > 0 {
		eg.Go(compactTask(runCtx, root.log, c, root.cfg.Backend.MVCC))
	}

	if addr := root.cfg.Gateway.MetricsListen; addr != "" {
		srv, err := metricsServer(addr)
		if err != nil {
			rd.Stop()
			return err
		}
		ml, err := lc.Listen(runCtx, "tcp", addr)
		if err != nil {
			rd.Stop()
			return errors.WithStack(err)
		}
		eg.Go(metricsShutdownTask(runCtx, root.log, srv))
		eg.Go(metricsServeTask(root.log, srv, ml))
	}

	return errors.WithStack(eg.Wait())
}

func metricsServer(addr string) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := metrics.New(reg); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: metricsShutdownTimeout}, nil
}

func redisShutdownTask(ctx context.Context, log *slog.Logger, rd *adapter.RedisServer) func() error {
	return func() error {
		<-ctx.Done()
		log.Info("Shutting down Redis server", "address", rd.Addr(), "reason", ctx.Err())
		rd.Stop()
		return nil
	}
}

func redisServeTask(log *slog.Logger, rd *adapter.RedisServer, backend string) func() error {
	return func() error {
		log.Info("Starting Redis server", "address", rd.Addr(), "backend", backend)
		err := rd.Run()
		if err == nil || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return errors.WithStack(err)
	}
}

// compactTask drops versions older than the retention period on every tick.
// A failed pass is logged and retried on the next tick.
func compactTask(ctx context.Context, log *slog.Logger, c store.Compactor, cfg config.MVCCConfig) func() error {
	return func() error {
		ticker := time.NewTicker(cfg.CompactInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				if err := c.Compact(ctx, store.TimestampAt(now.Add(-cfg.Retention))); err != nil {
					log.Warn("compaction failed", "error", err)
				}
			}
		}
	}
}

func metricsShutdownTask(ctx context.Context, log *slog.Logger, srv *http.Server) func() error {
	return func() error {
		<-ctx.Done()
		log.Info("Shutting down metrics server", "address", srv.Addr, "reason", ctx.Err())
		sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return errors.WithStack(srv.Shutdown(sctx))
	}
}

func metricsServeTask(log *slog.Logger, srv *http.Server, l net.Listener) func() error {
	return func() error {
		log.Info("Starting metrics server", "address", srv.Addr)
		err := srv.Serve(l)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WithStack(err)
	}
}
