package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dikwickley/promptoncron/internal/apperr"
	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/metrics"
	"github.com/dikwickley/promptoncron/internal/pipeline"
	"github.com/dikwickley/promptoncron/internal/table"
	"github.com/dikwickley/promptoncron/internal/webhook"
)

type execFunc func(ctx context.Context, in pipeline.Input) (*db.Success, error)

func (f execFunc) Execute(ctx context.Context, in pipeline.Input) (*db.Success, error) {
	return f(ctx, in)
}

type recorder struct {
	mu    sync.Mutex
	notes []webhook.Notification
}

func (r *recorder) Notify(_ context.Context, n webhook.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []webhook.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]webhook.Notification(nil), r.notes...)
}

func newStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.New(db.DriverPureGo, filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func addTask(t *testing.T, store *db.DB) *db.Task {
	t.Helper()
	task := &db.Task{Name: "Daily", Prompt: "list things", CronExpression: "0 9 * * *", Timezone: "UTC"}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

func enqueue(t *testing.T, store *db.DB, taskID string, at time.Time) *db.Run {
	t.Helper()
	run, err := store.EnqueueRun(context.Background(), taskID, at)
	require.NoError(t, err)
	return run
}

func counter(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func newWorker(store Store, exec Executor, opts Options) *Worker {
	opts.Logger = zerolog.Nop()
	return New(store, exec, opts)
}

func TestPollIntervalClamp(t *testing.T) {
	w := newWorker(nil, nil, Options{PollInterval: 10 * time.Millisecond})
	assert.Equal(t, minPollInterval, w.pollInterval)

	w = newWorker(nil, nil, Options{})
	assert.Equal(t, defaultPollInterval, w.pollInterval)
	assert.Equal(t, db.StalePolicyFail, w.stalePolicy)
}

func TestRunOnceEmptyQueue(t *testing.T) {
	store := newStore(t)
	w := newWorker(store, execFunc(func(context.Context, pipeline.Input) (*db.Success, error) {
		t.Fatal("executor called on empty queue")
		return nil, nil
	}), Options{})

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunOnceMockPipelineSuccess(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	task := addTask(t, store)
	run := enqueue(t, store, task.ID, time.Now())

	notes := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := &pipeline.Pipeline{Logger: zerolog.Nop()}
	w := newWorker(store, p, Options{Notifier: notes, Metrics: m})

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusSuccess, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.LLMModel)
	assert.Nil(t, got.TokenUsage)

	res, err := store.GetResult(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, res.Columns, 2)
	assert.Equal(t, "timestamp", res.Columns[0].Key)
	assert.Equal(t, "Daily", res.Rows[0]["task"])

	sent := notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, db.RunStatusSuccess, sent[0].Run.Status)
	require.NotNil(t, sent[0].Result)
	assert.Equal(t, task.ID, sent[0].Task.ID)

	assert.Equal(t, 1.0, counter(t, reg, "promptoncron_runs_finished_total", string(db.RunStatusSuccess)))
}

func TestRunOncePassesTaskFields(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	task := &db.Task{Name: "News", Prompt: "headlines", CronExpression: "0 9 * * *", WebSearchEnabled: true}
	require.NoError(t, store.CreateTask(ctx, task))
	run := enqueue(t, store, task.ID, time.Now())

	var seen pipeline.Input
	w := newWorker(store, execFunc(func(_ context.Context, in pipeline.Input) (*db.Success, error) {
		seen = in
		return &db.Success{Table: pipeline.MockTable(in.TaskName, time.Now())}, nil
	}), Options{})

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Input{RunID: run.ID, TaskID: task.ID, TaskName: "News", Prompt: "headlines", WebSearch: true}, seen)
}

func TestRunOnceFailureIsRedacted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	task := addTask(t, store)
	run := enqueue(t, store, task.ID, time.Now())

	const secret = "sk-live-123456"
	notes := &recorder{}
	w := newWorker(store, execFunc(func(context.Context, pipeline.Input) (*db.Success, error) {
		return nil, errors.New("LLM failed: bad key " + secret + "\n\tat client line 3")
	}), Options{Secrets: []string{secret}, Notifier: notes})

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.NotContains(t, *got.ErrorMessage, secret)
	assert.NotContains(t, *got.ErrorMessage, "\n")
	assert.Equal(t, "LLM failed: bad key "+RedactionToken+" at client line 3", *got.ErrorMessage)

	_, err = store.GetResult(ctx, run.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound), "failed runs have no result")

	sent := notes.all()
	require.Len(t, sent, 1)
	assert.Nil(t, sent[0].Result)
}

func TestRunOnceRecoversPanic(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	task := addTask(t, store)
	run := enqueue(t, store, task.ID, time.Now())

	w := newWorker(store, execFunc(func(context.Context, pipeline.Input) (*db.Success, error) {
		panic("boom")
	}), Options{})

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, got.Status)
	assert.Equal(t, "Worker crashed: boom", *got.ErrorMessage)
}

func TestRunOnceOverlapSkips(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	task := addTask(t, store)
	now := time.Now()
	first := enqueue(t, store, task.ID, now.Add(-time.Minute))
	second := enqueue(t, store, task.ID, now)

	claim, err := store.ClaimNextRun(ctx, now)
	require.NoError(t, err)
	require.Equal(t, first.ID, claim.Run.ID)

	notes := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	w := newWorker(store, execFunc(func(context.Context, pipeline.Input) (*db.Success, error) {
		t.Fatal("overlapping run must not execute")
		return nil, nil
	}), Options{Notifier: notes, Metrics: m})

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := store.GetRun(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, got.Status)
	assert.Equal(t, db.OverlapMessage, *got.ErrorMessage)

	stillRunning, err := store.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusRunning, stillRunning.Status)

	assert.Equal(t, 1.0, counter(t, reg, "promptoncron_run_claims_total", "overlap"))
	require.Len(t, notes.all(), 1)
}

type missingTaskStore struct{ *db.DB }

func (missingTaskStore) GetTask(context.Context, string) (*db.Task, error) {
	return nil, apperr.New(apperr.NotFound, "get task", "task not found")
}

func TestRunOnceMissingTask(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	task := addTask(t, store)
	run := enqueue(t, store, task.ID, time.Now())

	w := newWorker(missingTaskStore{store}, execFunc(func(context.Context, pipeline.Input) (*db.Success, error) {
		t.Fatal("executor called without a task")
		return nil, nil
	}), Options{})

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, got.Status)
	assert.Equal(t, missingTaskMessage, *got.ErrorMessage)
}

func TestTerminalWriteSurvivesCancellation(t *testing.T) {
	store := newStore(t)
	task := addTask(t, store)
	run := enqueue(t, store, task.ID, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := newWorker(store, execFunc(func(ctx context.Context, _ pipeline.Input) (*db.Success, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}), Options{})

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "context canceled")
}

func TestRunRecoversStaleAndDrainsQueue(t *testing.T) {
	store := newStore(t)
	task := addTask(t, store)
	now := time.Now()
	stale := enqueue(t, store, task.ID, now.Add(-time.Hour))
	_, err := store.ClaimNextRun(context.Background(), now)
	require.NoError(t, err)
	fresh := enqueue(t, store, task.ID, now)

	w := newWorker(store, &pipeline.Pipeline{Logger: zerolog.Nop()}, Options{PollInterval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		got, err := store.GetRun(context.Background(), fresh.ID)
		return err == nil && got.Status == db.RunStatusSuccess
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	got, err := store.GetRun(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, got.Status)
	assert.Equal(t, db.StaleRunMessage, *got.ErrorMessage)
}

func TestRunRejectsUnknownStalePolicy(t *testing.T) {
	store := newStore(t)
	w := newWorker(store, &pipeline.Pipeline{}, Options{StalePolicy: "bogus"})
	err := w.Run(context.Background())
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		secrets []string
		want    string
	}{
		{"plain", "LLM failed: timeout", nil, "LLM failed: timeout"},
		{"collapses whitespace", "a\n\n b\r\n\tc\x00d", nil, "a b c d"},
		{"redacts every occurrence", "key=abc and abc", []string{"abc"}, "key=" + RedactionToken + " and " + RedactionToken},
		{"longest secret first", "token abcdef", []string{"abc", "abcdef"}, "token " + RedactionToken},
		{"ignores blank secrets", "nothing here", []string{"", "  "}, "nothing here"},
		{"secret split by newline", "bad sk-1\n", []string{"sk-1"}, "bad " + RedactionToken},
		{"empty", " \n ", nil, "Unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.msg, tt.secrets)
			assert.Equal(t, tt.want, got)
			for _, s := range tt.secrets {
				if strings.TrimSpace(s) != "" {
					assert.NotContains(t, got, s)
				}
			}
		})
	}
}

func TestSanitizeTruncates(t *testing.T) {
	got := Sanitize(strings.Repeat("x", maxMessageLength+10), nil)
	assert.Len(t, got, maxMessageLength+3)
}

// The worker never claims a run whose terminal state is already set.
func TestRunOnceIgnoresFinishedRuns(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	task := addTask(t, store)
	run := enqueue(t, store, task.ID, time.Now())
	require.NoError(t, store.FinishFailed(ctx, run.ID, "cancelled"))

	w := newWorker(store, execFunc(func(context.Context, pipeline.Input) (*db.Success, error) {
		return &db.Success{Table: &table.Table{}}, nil
	}), Options{})
	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}
