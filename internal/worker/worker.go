// Package worker claims queued runs one at a time, executes them and writes
// exactly one terminal outcome per run.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dikwickley/promptoncron/internal/apperr"
	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/metrics"
	"github.com/dikwickley/promptoncron/internal/pipeline"
	"github.com/dikwickley/promptoncron/internal/webhook"
)

const (
	defaultPollInterval = 2 * time.Second
	minPollInterval     = time.Second

	missingTaskMessage = "Task not found"
)

// Store is the subset of the run store the worker uses.
type Store interface {
	ClaimNextRun(ctx context.Context, now time.Time) (*db.Claim, error)
	GetTask(ctx context.Context, id string) (*db.Task, error)
	GetRun(ctx context.Context, id string) (*db.Run, error)
	FinishSuccess(ctx context.Context, runID string, out db.Success) error
	FinishFailed(ctx context.Context, runID, msg string) error
	RecoverStaleRuns(ctx context.Context, policy string) (int, error)
}

// Executor runs the generation pipeline for one claimed run.
type Executor interface {
	Execute(ctx context.Context, in pipeline.Input) (*db.Success, error)
}

// Notifier is told about every terminal run.
type Notifier interface {
	Notify(ctx context.Context, n webhook.Notification)
}

// Options configures a Worker.
type Options struct {
	PollInterval time.Duration // idle sleep, floor-clamped to 1s
	StalePolicy  string        // fail, requeue or none
	Secrets      []string      // redacted from stored error messages
	Notifier     Notifier
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Worker is the single sequential consumer of the run queue.
type Worker struct {
	store        Store
	exec         Executor
	notifier     Notifier
	pollInterval time.Duration
	stalePolicy  string
	secrets      []string
	metrics      *metrics.Metrics
	log          zerolog.Logger
	now          func() time.Time
}

// New creates a worker
func New(store Store, exec Executor, opts Options) *Worker {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if interval < minPollInterval {
		interval = minPollInterval
	}
	policy := opts.StalePolicy
	if policy == "" {
		policy = db.StalePolicyFail
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Worker{
		store:        store,
		exec:         exec,
		notifier:     opts.Notifier,
		pollInterval: interval,
		stalePolicy:  policy,
		secrets:      opts.Secrets,
		metrics:      opts.Metrics,
		log:          opts.Logger.With().Str("component", "worker").Logger(),
		now:          now,
	}
}

// Run recovers runs orphaned by a previous process, then claims and executes
// runs until ctx is cancelled. It sleeps only when the queue was empty.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.store.RecoverStaleRuns(ctx, w.stalePolicy)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Warn().Int("runs", n).Str("policy", w.stalePolicy).Msg("recovered stale runs")
	}

	w.log.Info().Dur("poll_interval", w.pollInterval).Msg("worker started")

	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("worker stopped")
			return nil
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("claim failed")
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce claims at most one run and drives it to a terminal state. It
// reports whether a run was taken off the queue.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	claim, err := w.store.ClaimNextRun(ctx, w.now().UTC())
	if err != nil {
		return false, err
	}
	if claim == nil {
		return false, nil
	}

	w.metrics.RunClaimed(claim.Skipped)
	run := claim.Run

	if claim.Skipped {
		w.log.Info().Str("run_id", run.ID).Str("task_id", run.TaskID).Msg("skipped overlapping run")
		w.metrics.RunFinished(string(db.RunStatusFailed), 0)
		w.notify(context.WithoutCancel(ctx), run, nil)
		return true, nil
	}

	w.execute(ctx, run)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, run *db.Run) {
	log := w.log.With().Str("run_id", run.ID).Str("task_id", run.TaskID).Logger()
	log.Info().Msg("executing run")

	task, out, failure := w.process(ctx, run)

	// The terminal write must land even when shutdown cancelled ctx.
	wctx := context.WithoutCancel(ctx)

	status := db.RunStatusSuccess
	if out != nil {
		if err := w.store.FinishSuccess(wctx, run.ID, *out); err != nil {
			log.Error().Err(err).Msg("failed to store result")
			out = nil
			failure = fmt.Sprintf("Worker crashed: %v", err)
		}
	}
	if out == nil {
		status = db.RunStatusFailed
		msg := Sanitize(failure, w.secrets)
		if err := w.store.FinishFailed(wctx, run.ID, msg); err != nil {
			log.Error().Err(err).Msg("failed to mark run failed")
		}
		log.Warn().Str("error", msg).Msg("run failed")
	} else {
		log.Info().Int("rows", len(out.Table.Rows)).Msg("run succeeded")
	}

	final, err := w.store.GetRun(wctx, run.ID)
	if err != nil {
		log.Debug().Err(err).Msg("run vanished after terminal write")
		return
	}
	w.metrics.RunFinished(string(final.Status), final.Duration())
	if final.Status != status {
		return
	}

	var result *db.Result
	if out != nil {
		result = &db.Result{RunID: run.ID, Columns: out.Table.Columns, Rows: out.Table.Rows, Summary: out.Table.Summary}
	}
	if task != nil {
		w.notifyTask(wctx, task, final, result)
	}
}

// process loads the task and runs the pipeline. It never panics; a nil
// Success comes with a failure message.
func (w *Worker) process(ctx context.Context, run *db.Run) (task *db.Task, out *db.Success, failure string) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Str("run_id", run.ID).Interface("panic", r).Msg("pipeline panicked")
			out = nil
			failure = fmt.Sprintf("Worker crashed: %v", r)
		}
	}()

	task, err := w.store.GetTask(ctx, run.TaskID)
	if apperr.Is(err, apperr.NotFound) {
		return nil, nil, missingTaskMessage
	}
	if err != nil {
		return nil, nil, fmt.Sprintf("Worker crashed: %v", err)
	}

	out, err = w.exec.Execute(ctx, pipeline.Input{
		RunID:     run.ID,
		TaskID:    task.ID,
		TaskName:  task.Name,
		Prompt:    task.Prompt,
		WebSearch: task.WebSearchEnabled,
	})
	if err != nil {
		return task, nil, err.Error()
	}
	if out == nil || out.Table == nil {
		return task, nil, "Worker crashed: pipeline returned no result"
	}
	return task, out, ""
}

func (w *Worker) notify(ctx context.Context, run *db.Run, result *db.Result) {
	if w.notifier == nil {
		return
	}
	task, err := w.store.GetTask(ctx, run.TaskID)
	if err != nil {
		return
	}
	w.notifyTask(ctx, task, run, result)
}

func (w *Worker) notifyTask(ctx context.Context, task *db.Task, run *db.Run, result *db.Result) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(ctx, webhook.Notification{Task: task, Run: run, Result: result})
}
