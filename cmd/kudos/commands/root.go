// Package commands implements the kudos CLI: the API server and the
// bootstrap subcommands.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kudos-app/kudos/pkg/kudos/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kudos",
		Short:         "Kudos group productivity backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newBootstrapCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return err
	}
	return nil
}

// buildLogger configures the process logger from config plus the
// --verbose override.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
