package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/bootjp/elasticgrid/config"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string

	cfg *config.Config
	log *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "elasticgrid",
		Short:         "Compensation log and optimistic sequences over key/value stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = newLogger(cmd.ErrOrStderr(), cfg.Log)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newSeqCommand(opts))
	cmd.AddCommand(newDemoCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

// closeStore folds the close error into err.
func closeStore(err error, c io.Closer) error {
	if cerr := c.Close(); cerr != nil {
		return errors.CombineErrors(err, errors.WithStack(cerr))
	}
	return err
}
