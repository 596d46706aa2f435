package main

import (
	"context"
	"fmt"
	"io"

	"github.com/bootjp/elasticgrid/compensation"
	"github.com/bootjp/elasticgrid/grid"
	"github.com/bootjp/elasticgrid/store"
	"github.com/bootjp/elasticgrid/uow"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var ordersMeta = grid.EntityKeyMetadata{Table: "orders", Columns: []string{"id"}}

func newDemoCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a unit of work that fails and is compensated",
		Long: `Insert an order under a generated id, then update it with a stale lock
state. The update fails, the unit of work rolls back, and the applied
operations are undone in reverse order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			st, err := store.Open(cmd.Context(), root.cfg.Backend, store.WithLogger(root.log))
			if err != nil {
				return err
			}
			defer func() { err = closeStore(err, st) }()
			return runDemo(cmd.Context(), root, st, cmd.OutOrStdout())
		},
	}
}

func runDemo(ctx context.Context, root *rootOptions, st store.ConditionalStore, out io.Writer) error {
	gen, err := newGenerator(root, st)
	if err != nil {
		return err
	}
	dialect, err := grid.NewKVDialect(st, grid.WithLogger(root.log), grid.WithSequenceGenerator(gen))
	if err != nil {
		return err
	}

	logging := compensation.NewLoggingHandler(root.log, compensation.Abort)
	handler := compensation.HandlerFuncs{
		Failure: logging.OnFailure,
		Rollback: func(ctx context.Context, rc compensation.RollbackContext) error {
			for _, op := range rc.AppliedOperations {
				fmt.Fprintf(out, "applied: %s\n", op)
			}
			return compensate(ctx, dialect, rc.AppliedOperations, out)
		},
	}

	session := uow.NewSession(uow.WithLogger(root.log))
	lifecycle, err := compensation.NewLifecycle(session, handler, compensation.WithLogger(root.log))
	if err != nil {
		return err
	}
	interceptor, err := compensation.NewInterceptor(dialect, handler, compensation.WithLogger(root.log))
	if err != nil {
		return err
	}
	persister := grid.NewPersister(interceptor)

	var key grid.EntityKey
	err = uow.Run(ctx, lifecycle, func(ctx context.Context) error {
		k, tuple, err := interceptor.CreateTupleWithGeneratedKey(ctx, ordersMeta)
		if err != nil {
			return err
		}
		key = k
		tuple["status"] = "new"
		tuple["version"] = int64(1)
		if err := interceptor.InsertTuple(ctx, key, tuple); err != nil {
			return err
		}

		// Someone else already moved the order to version 2.
		stale := grid.Tuple{"version": int64(2)}
		next := tuple.Clone()
		next["status"] = "paid"
		next["version"] = int64(3)
		return persister.UpdateTuple(ctx, key, stale, next)
	})
	switch {
	case err == nil:
		return errors.New("stale update was applied")
	case !errors.Is(err, grid.ErrStaleState):
		return err
	}
	fmt.Fprintf(out, "unit of work failed: %v\n", err)

	left, err := dialect.GetTuple(ctx, key)
	if err != nil {
		return err
	}
	if left != nil {
		return errors.Newf("%s still present after compensation", key)
	}
	fmt.Fprintf(out, "%s compensated\n", key)
	return nil
}

// compensate undoes tuple inserts, newest first. Other operations have no
// inverse without the prior state and are reported only.
func compensate(ctx context.Context, d grid.Dialect, applied []compensation.Operation, out io.Writer) error {
	for i := len(applied) - 1; i >= 0; i-- {
		switch op := applied[i].(type) {
		case compensation.InsertTuple:
			if err := d.RemoveTuple(ctx, op.EntityKey()); err != nil {
				return err
			}
			fmt.Fprintf(out, "undone: %s\n", op)
		default:
			fmt.Fprintf(out, "skipped: %s\n", op)
		}
	}
	return nil
}
