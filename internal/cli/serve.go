package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docchat/ingest/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when ENABLE_WORKER is set, the queue worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cfg.EnableAPI, cfg.EnableWorker)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued documents from NSQ",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(false, true)
	},
}

func run(api, worker bool) error {
	if !api && !worker {
		return errors.New("nothing to run: both ENABLE_API and ENABLE_WORKER are false")
	}

	ctx, stop := signalContext()
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(ctx, cfg, deps, slog.Default())
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if api {
		g.Go(func() error { return a.Run(ctx) })
	}
	if worker {
		if deps.Publisher == nil {
			slog.Warn("queue worker disabled for the sqlite backend")
		} else {
			g.Go(func() error { return a.RunWorker(ctx) })
		}
	}
	return g.Wait()
}
