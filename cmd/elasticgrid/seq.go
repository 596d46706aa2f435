package main

import (
	"fmt"

	"github.com/bootjp/elasticgrid/sequence"
	"github.com/bootjp/elasticgrid/store"
	"github.com/spf13/cobra"
)

type seqOptions struct {
	*rootOptions
	initial   int64
	increment int64
	count     int
}

func newSeqCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seq",
		Short: "Work with optimistic sequences",
	}
	cmd.AddCommand(newSeqNextCommand(root))
	return cmd
}

func newSeqNextCommand(root *rootOptions) *cobra.Command {
	opts := &seqOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "next <name>",
		Short: "Draw the next values of a sequence",
		Long: `Draw values from the named sequence on the configured backend. An
absent sequence starts at --initial; every later value adds --increment.

Example:
  elasticgrid seq next order_id --initial 100 --increment 5 --count 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			st, err := store.Open(cmd.Context(), opts.cfg.Backend, store.WithLogger(opts.log))
			if err != nil {
				return err
			}
			defer func() { err = closeStore(err, st) }()

			gen, err := newGenerator(opts.rootOptions, st)
			if err != nil {
				return err
			}
			req := sequence.Request{Name: args[0], InitialValue: opts.initial, Increment: opts.increment}
			for range opts.count {
				v, err := gen.Next(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&opts.initial, "initial", 1, "first value of an absent sequence")
	cmd.Flags().Int64Var(&opts.increment, "increment", 1, "step between values")
	cmd.Flags().IntVar(&opts.count, "count", 1, "number of values to draw")

	return cmd
}

func newGenerator(root *rootOptions, st store.ConditionalStore, opts ...sequence.Option) (*sequence.Generator, error) {
	c := root.cfg.Sequence
	base := []sequence.Option{
		sequence.WithMaxAttempts(c.MaxAttempts),
		sequence.WithBackoff(c.BaseBackoff, c.MaxBackoff, c.JitterPercent),
		sequence.WithLogger(root.log),
	}
	return sequence.NewGenerator(sequence.FromStore(st), append(base, opts...)...)
}
