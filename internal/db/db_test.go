package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dikwickley/promptoncron/internal/apperr"
	"github.com/dikwickley/promptoncron/internal/search"
	"github.com/dikwickley/promptoncron/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := New(DriverPureGo, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func createTask(t *testing.T, d *DB, name string) *Task {
	t.Helper()
	next := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	task := &Task{
		Name:           name,
		Prompt:         "list three facts",
		CronExpression: "0 9 * * *",
		NextRunAt:      &next,
	}
	require.NoError(t, d.CreateTask(context.Background(), task))
	return task
}

func sampleTable() *table.Table {
	summary := "two rows"
	return &table.Table{
		Columns: []table.Column{{Key: "a", Label: "A", Type: table.TypeString}, {Key: "b", Label: "B", Type: table.TypeNumber}},
		Rows:    []table.Row{{"a": "x", "b": 1.0}, {"a": "y", "b": nil}},
		Summary: &summary,
	}
}

func TestTaskCRUD(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	task := createTask(t, d, "facts")
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "UTC", task.Timezone)
	assert.Equal(t, TaskStatusEnabled, task.Status)

	got, err := d.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "facts", got.Name)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(*task.NextRunAt))

	got.Status = TaskStatusDisabled
	got.NextRunAt = nil
	got.WebSearchEnabled = true
	require.NoError(t, d.UpdateTask(ctx, got))

	got, err = d.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled())
	assert.True(t, got.WebSearchEnabled)
	assert.Nil(t, got.NextRunAt)

	next := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.SetNextRunAt(ctx, task.ID, &next))
	got, err = d.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(next))

	createTask(t, d, "second")
	tasks, err := d.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestGetTaskNotFound(t *testing.T) {
	d := newTestDB(t)

	_, err := d.GetTask(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.True(t, errors.Is(err, ErrNotFound))

	err = d.UpdateTask(context.Background(), &Task{ID: "missing", Status: TaskStatusEnabled})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestDeleteTaskCascades(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	task := createTask(t, d, "facts")

	run, err := d.EnqueueRun(ctx, task.ID, time.Now())
	require.NoError(t, err)
	claim, err := d.ClaimNextRun(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claim)
	_, err = d.SaveSnapshot(ctx, run.ID, "q", []search.Result{{Title: "t", URL: "u", Snippet: "s"}})
	require.NoError(t, err)
	require.NoError(t, d.FinishSuccess(ctx, run.ID, Success{Table: sampleTable()}))

	require.NoError(t, d.DeleteTask(ctx, task.ID))

	_, err = d.GetRun(ctx, run.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	_, err = d.GetResult(ctx, run.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	_, err = d.GetSnapshot(ctx, run.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	assert.True(t, apperr.Is(d.DeleteTask(ctx, task.ID), apperr.NotFound))
}

func TestClaimOldestFirst(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	a := createTask(t, d, "a")
	b := createTask(t, d, "b")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	late, err := d.EnqueueRun(ctx, a.ID, base.Add(time.Minute))
	require.NoError(t, err)
	early, err := d.EnqueueRun(ctx, b.ID, base)
	require.NoError(t, err)

	claim, err := d.ClaimNextRun(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.False(t, claim.Skipped)
	assert.Equal(t, early.ID, claim.Run.ID)
	assert.Equal(t, RunStatusRunning, claim.Run.Status)

	stored, err := d.GetRun(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, stored.Status)
	require.NotNil(t, stored.StartedAt)
	assert.True(t, stored.StartedAt.Equal(base.Add(2*time.Minute)))

	claim, err = d.ClaimNextRun(ctx, base.Add(3*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, late.ID, claim.Run.ID)

	claim, err = d.ClaimNextRun(ctx, base.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestClaimOverlapSkips(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	task := createTask(t, d, "facts")
	now := time.Now()

	first, err := d.EnqueueRun(ctx, task.ID, now)
	require.NoError(t, err)
	second, err := d.EnqueueRun(ctx, task.ID, now.Add(time.Second))
	require.NoError(t, err)

	claim, err := d.ClaimNextRun(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, first.ID, claim.Run.ID)

	claim, err = d.ClaimNextRun(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.True(t, claim.Skipped)
	assert.Equal(t, second.ID, claim.Run.ID)

	stored, err := d.GetRun(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, OverlapMessage, *stored.ErrorMessage)
	assert.Nil(t, stored.StartedAt)

	running, err := d.ListRunsByStatus(ctx, RunStatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestFinishSuccess(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	task := createTask(t, d, "facts")

	run, err := d.EnqueueRun(ctx, task.ID, time.Now())
	require.NoError(t, err)
	_, err = d.ClaimNextRun(ctx, time.Now())
	require.NoError(t, err)

	model := "gpt-4o-mini"
	usage := &TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	require.NoError(t, d.FinishSuccess(ctx, run.ID, Success{Table: sampleTable(), Model: &model, TokenUsage: usage}))

	stored, err := d.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
	assert.Equal(t, model, *stored.LLMModel)
	assert.Equal(t, usage, stored.TokenUsage)
	assert.Nil(t, stored.CostEstimate)

	res, err := d.GetResult(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, table.SchemaVersion, res.SchemaVersion)
	assert.Len(t, res.Columns, 2)
	require.Len(t, res.Rows, 2)
	v, ok := res.Rows[1]["b"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, "two rows", *res.Summary)

	// Terminal runs never move again.
	err = d.FinishFailed(ctx, run.ID, "late failure")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = d.FinishSuccess(ctx, run.ID, Success{Table: sampleTable()})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFinishSuccessRequiresRunning(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	task := createTask(t, d, "facts")

	run, err := d.EnqueueRun(ctx, task.ID, time.Now())
	require.NoError(t, err)

	err = d.FinishSuccess(ctx, run.ID, Success{Table: sampleTable()})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = d.GetResult(ctx, run.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestFinishOnMissingRunIsNoop(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	assert.NoError(t, d.FinishSuccess(ctx, "gone", Success{Table: sampleTable()}))
	assert.NoError(t, d.FinishFailed(ctx, "gone", "boom"))
}

func TestFinishFailedFromQueued(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	task := createTask(t, d, "facts")

	run, err := d.EnqueueRun(ctx, task.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, d.FinishFailed(ctx, run.ID, "Worker crashed: boom"))

	stored, err := d.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, stored.Status)
	assert.Equal(t, "Worker crashed: boom", *stored.ErrorMessage)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	task := createTask(t, d, "facts")
	run, err := d.EnqueueRun(ctx, task.ID, time.Now())
	require.NoError(t, err)

	hits := []search.Result{{Title: "A", URL: "https://a.example", Snippet: "alpha"}}
	_, err = d.SaveSnapshot(ctx, run.ID, "facts", hits)
	require.NoError(t, err)

	snap, err := d.GetSnapshot(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "facts", snap.Query)
	assert.Equal(t, hits, snap.Results)

	_, err = d.SaveSnapshot(ctx, run.ID, "again", nil)
	assert.Error(t, err, "a run has at most one snapshot")
}

func TestListTaskRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	task := createTask(t, d, "facts")
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := d.EnqueueRun(ctx, task.ID, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	runs, err := d.ListTaskRuns(ctx, task.ID, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].ScheduledFor.Equal(base.Add(2*time.Hour)))
	assert.True(t, runs[1].ScheduledFor.Equal(base.Add(time.Hour)))
}

func TestRecoverStaleRuns(t *testing.T) {
	tests := []struct {
		policy      string
		wantTouched int
		wantStatus  RunStatus
		wantQueued  int
	}{
		{StalePolicyFail, 1, RunStatusFailed, 0},
		{StalePolicyRequeue, 1, RunStatusFailed, 1},
		{StalePolicyNone, 0, RunStatusRunning, 0},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			ctx := context.Background()
			d := newTestDB(t)
			task := createTask(t, d, "facts")

			run, err := d.EnqueueRun(ctx, task.ID, time.Now())
			require.NoError(t, err)
			_, err = d.ClaimNextRun(ctx, time.Now())
			require.NoError(t, err)

			n, err := d.RecoverStaleRuns(ctx, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTouched, n)

			stored, err := d.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			if tt.wantStatus == RunStatusFailed {
				assert.Equal(t, StaleRunMessage, *stored.ErrorMessage)
			}

			queued, err := d.ListRunsByStatus(ctx, RunStatusQueued)
			require.NoError(t, err)
			assert.Len(t, queued, tt.wantQueued)
		})
	}

	d := newTestDB(t)
	_, err := d.RecoverStaleRuns(context.Background(), "explode")
	assert.True(t, apperr.Is(err, apperr.Configuration))
}
