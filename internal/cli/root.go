// Package cli implements the gthreads command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/gthreads/internal/config"
	"github.com/me/gthreads/internal/logging"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the gthreads CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gthreads",
		Short: "gthreads: a preemptive green-thread scheduler",
		Long: "gthreads runs demo workloads on a single-threaded, preemptive green-thread\n" +
			"runtime, records scheduling traces and serves a live introspection API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = flagLogFormat
			}
			if flagDebug {
				cfg.Log.Level = "debug"
			}
			level, err := logging.ParseLevelStrict(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			logger = logging.NewLoggerWithWriter(level, cfg.Log.Format, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newRunsCmd(),
		newInspectCmd(),
		newConfigCmd(),
	)
	return root
}
