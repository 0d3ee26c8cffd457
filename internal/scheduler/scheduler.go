package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dikwickley/promptoncron/internal/apperr"
	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/logger"
	"github.com/dikwickley/promptoncron/internal/metrics"
	"github.com/dikwickley/promptoncron/internal/schedule"
)

const (
	defaultInterval = 10 * time.Second
	minInterval     = 5 * time.Second
	fireTimeout     = 30 * time.Second
)

// Store is the subset of the task store the scheduler reads and writes.
type Store interface {
	ListTasks(ctx context.Context) ([]*db.Task, error)
	GetTask(ctx context.Context, id string) (*db.Task, error)
	EnqueueRun(ctx context.Context, taskID string, scheduledFor time.Time) (*db.Run, error)
	SetNextRunAt(ctx context.Context, id string, next *time.Time) error
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration // reconcile period, floor-clamped to 5s
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

type job struct {
	entryID  cron.EntryID
	cronExpr string
	timezone string
}

// Scheduler keeps one live cron trigger per enabled task and enqueues a run
// each time a trigger fires.
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	jobs     map[string]job
	mu       sync.Mutex
	interval time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a new scheduler
func New(store Store, opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	if interval < minInterval {
		interval = minInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	log := opts.Logger.With().Str("component", "scheduler").Logger()
	cronLog := logger.Cron(log)

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		store:    store,
		jobs:     make(map[string]job),
		interval: interval,
		metrics:  opts.Metrics,
		log:      log,
		now:      now,
	}
}

// Run reconciles once, starts the cron engine and reconciles again every
// interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		s.log.Error().Err(err).Msg("initial reconcile failed")
	}

	s.cron.Start()
	defer func() {
		<-s.cron.Stop().Done()
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				s.log.Error().Err(err).Msg("reconcile failed")
			}
		}
	}
}

// Reconcile brings the live job set in line with the task store. Tasks whose
// schedule does not parse are left unscheduled and logged.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	type desired struct {
		task  *db.Task
		sched cron.Schedule
	}
	want := make(map[string]desired, len(tasks))
	for _, task := range tasks {
		if !task.Enabled() {
			continue
		}
		sched, err := schedule.Parse(task.CronExpression, task.Timezone)
		if err != nil {
			s.log.Warn().Err(err).Str("task_id", task.ID).Msg("skipping task with invalid schedule")
			continue
		}
		want[task.ID] = desired{task: task, sched: sched}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for taskID, j := range s.jobs {
		if _, ok := want[taskID]; !ok {
			s.cron.Remove(j.entryID)
			delete(s.jobs, taskID)
			s.log.Debug().Str("task_id", taskID).Msg("removed job")
		}
	}

	for taskID, d := range want {
		current, scheduled := s.jobs[taskID]
		if scheduled && current.cronExpr == d.task.CronExpression && current.timezone == d.task.Timezone {
			continue
		}
		if scheduled {
			// robfig/cron has no reschedule; replace the entry.
			s.cron.Remove(current.entryID)
		}

		id := taskID
		entryID := s.cron.Schedule(d.sched, cron.FuncJob(func() { s.fire(id) }))
		s.jobs[taskID] = job{entryID: entryID, cronExpr: d.task.CronExpression, timezone: d.task.Timezone}
		s.log.Debug().Str("task_id", taskID).Str("cron", d.task.CronExpression).
			Str("timezone", d.task.Timezone).Bool("replaced", scheduled).Msg("scheduled job")
	}

	s.metrics.SetScheduledJobs(len(s.jobs))
	return nil
}

func (s *Scheduler) fire(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	if _, err := s.EnqueueRun(ctx, taskID); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("failed to enqueue run")
	}
}

// EnqueueRun inserts a queued run for taskID if the task still exists and is
// enabled, then refreshes its advisory next_run_at. It returns nil when the
// trigger was stale.
func (s *Scheduler) EnqueueRun(ctx context.Context, taskID string) (*db.Run, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if apperr.Is(err, apperr.NotFound) {
		s.log.Debug().Str("task_id", taskID).Msg("trigger fired for deleted task")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !task.Enabled() {
		s.log.Debug().Str("task_id", taskID).Msg("trigger fired for disabled task")
		return nil, nil
	}

	now := s.now().UTC()
	run, err := s.store.EnqueueRun(ctx, taskID, now)
	if err != nil {
		return nil, err
	}
	s.metrics.RunEnqueued(metrics.SourceSchedule)
	s.log.Info().Str("task_id", taskID).Str("run_id", run.ID).Msg("enqueued run")

	var next *time.Time
	if t, err := schedule.NextFire(task.CronExpression, task.Timezone, now); err != nil {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("cannot compute next run, clearing next_run_at")
	} else {
		next = &t
	}
	if err := s.store.SetNextRunAt(ctx, taskID, next); err != nil {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to update next_run_at")
	}

	return run, nil
}

// Jobs returns the live job set as task ID to "cron@timezone".
func (s *Scheduler) Jobs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.jobs))
	for taskID, j := range s.jobs {
		out[taskID] = j.cronExpr + "@" + j.timezone
	}
	return out
}

// NextRunTime returns the cron engine's next fire time for taskID.
func (s *Scheduler) NextRunTime(taskID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[taskID]; ok {
		entry := s.cron.Entry(j.entryID)
		if !entry.Next.IsZero() {
			return &entry.Next
		}
	}
	return nil
}
