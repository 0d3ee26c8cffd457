package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/dikwickley/promptoncron/internal/api"
	"github.com/dikwickley/promptoncron/internal/config"
	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/llm"
	"github.com/dikwickley/promptoncron/internal/logger"
	"github.com/dikwickley/promptoncron/internal/metrics"
	"github.com/dikwickley/promptoncron/internal/pipeline"
	"github.com/dikwickley/promptoncron/internal/retry"
	"github.com/dikwickley/promptoncron/internal/scheduler"
	"github.com/dikwickley/promptoncron/internal/search"
	"github.com/dikwickley/promptoncron/internal/webhook"
	"github.com/dikwickley/promptoncron/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// app holds what every command needs: config, logger, store and metrics.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *db.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// newApp loads configuration and opens the store, creating the schema if
// needed.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	store, err := db.New(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info().Str("path", cfg.Database.Path).Str("driver", cfg.Database.Driver).Msg("database ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func (a *app) newScheduler() *scheduler.Scheduler {
	return scheduler.New(a.store, scheduler.Options{
		Interval: a.cfg.Loops.SchedulerInterval.Duration,
		Metrics:  a.metrics,
		Logger:   a.log,
	})
}

func (a *app) newWorker() (*worker.Worker, error) {
	provider, err := llm.New(a.cfg.LLM)
	if err != nil {
		return nil, err
	}

	var searcher search.Searcher
	if a.cfg.Search.TavilyAPIKey != "" {
		searcher = search.NewTavily(a.cfg.Search.TavilyAPIKey, a.cfg.Search.Timeout.Duration)
	}

	p := &pipeline.Pipeline{
		Provider:   provider,
		Searcher:   searcher,
		Snapshots:  a.store,
		Retry:      retry.DefaultConfig(),
		MaxResults: a.cfg.Search.MaxResults,
		Metrics:    a.metrics,
		Logger:     a.log.With().Str("component", "pipeline").Logger(),
	}

	opts := worker.Options{
		PollInterval: a.cfg.Loops.WorkerPollInterval.Duration,
		StalePolicy:  a.cfg.Loops.StaleRunPolicy,
		Secrets:      a.cfg.Secrets(),
		Metrics:      a.metrics,
		Logger:       a.log,
	}
	if n := webhook.NewNotifier(a.cfg.Webhook.DiscordURL, a.cfg.Webhook.SlackURL, a.log); n.Enabled() {
		opts.Notifier = n
	}

	model := a.cfg.LLM.Model
	if provider == nil {
		model = "-"
	}
	a.log.Info().Str("provider", a.cfg.LLM.Provider).Str("model", model).
		Bool("web_search", searcher != nil).Msg("generation pipeline ready")

	return worker.New(a.store, p, opts), nil
}

// serveAPI serves the HTTP API until ctx is cancelled.
func (a *app) serveAPI(ctx context.Context) error {
	server := api.NewServer(a.store, api.Options{
		MinCronInterval: a.cfg.Loops.MinCronInterval.Duration,
		Metrics:         a.metrics,
		Gatherer:        a.registry,
		Logger:          a.log,
	})

	srv := &http.Server{
		Addr:              a.cfg.API.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("api server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
