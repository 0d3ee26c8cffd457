package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.serveAPI(ctx)
		})
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Keep cron triggers in sync with tasks and enqueue runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.newScheduler().Run(ctx)
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Claim queued runs and execute them one at a time",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			w, err := a.newWorker()
			if err != nil {
				return err
			}
			return w.Run(ctx)
		})
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run the api, scheduler and worker in one process",
	Long: `Run the api, scheduler and worker loops in one process. They still
cooperate only through the store, exactly as separate processes would.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			w, err := a.newWorker()
			if err != nil {
				return err
			}
			sched := a.newScheduler()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.serveAPI(ctx) })
			g.Go(func() error { return sched.Run(ctx) })
			g.Go(func() error { return w.Run(ctx) })
			return g.Wait()
		})
	},
}

// withApp builds the app, runs fn until SIGINT/SIGTERM and closes the store.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := fn(ctx, a); err != nil {
		a.log.Error().Err(err).Msg("exited with error")
		return err
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}
