// Package cli provides the command-line interface of the ingest binary.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docchat/ingest/internal/config"
	"docchat/ingest/internal/logger"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	cfg        *config.Config
	closeLog   func() error
	loadConfig = config.Load
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Document ingestion and embedding service",
	Long: `ingest turns uploaded documents into embedded, searchable chunks.

It extracts text, splits it into overlapping chunks, embeds every chunk with
the caller's provider credential and persists the results, resuming from the
last committed chunk after a failure.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}

		var log *slog.Logger
		log, closeLog = logger.Setup(logger.ParseLevel(cfg.LogLevel), cfg.LogFile)
		slog.SetDefault(log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(migrateCmd)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
