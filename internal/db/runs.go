package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dikwickley/promptoncron/internal/apperr"
	"github.com/dikwickley/promptoncron/internal/table"
)

// Fixed diagnostics written by the store itself.
const (
	OverlapMessage      = "Skipped due to overlapping run"
	StaleRunMessage     = "Worker restarted during execution"
	DefaultRunListLimit = 200
)

// Stale run recovery policies, see RecoverStaleRuns.
const (
	StalePolicyFail    = "fail"
	StalePolicyRequeue = "requeue"
	StalePolicyNone    = "none"
)

const runColumns = `id, task_id, scheduled_for, started_at, finished_at, status, error_message, llm_model, token_usage, cost_estimate, created_at, updated_at`

func scanRun(s rowScanner) (*Run, error) {
	run := &Run{}
	var scheduled, created, updated string
	var started, finished, errMsg, model, usage sql.NullString
	var cost sql.NullFloat64
	err := s.Scan(&run.ID, &run.TaskID, &scheduled, &started, &finished, &run.Status,
		&errMsg, &model, &usage, &cost, &created, &updated)
	if err != nil {
		return nil, err
	}

	if run.ScheduledFor, err = parseTime(scheduled); err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseNullTime(started); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	run.ErrorMessage = nullString(errMsg)
	run.LLMModel = nullString(model)
	if usage.Valid && usage.String != "" {
		run.TokenUsage = &TokenUsage{}
		if err := json.Unmarshal([]byte(usage.String), run.TokenUsage); err != nil {
			return nil, fmt.Errorf("invalid stored token usage: %w", err)
		}
	}
	if cost.Valid {
		v := cost.Float64
		run.CostEstimate = &v
	}
	return run, nil
}

// EnqueueRun inserts a queued run for taskID.
func (db *DB) EnqueueRun(ctx context.Context, taskID string, scheduledFor time.Time) (*Run, error) {
	now := db.now().UTC()
	run := &Run{
		ID:           newID(),
		TaskID:       taskID,
		ScheduledFor: scheduledFor.UTC(),
		Status:       RunStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := insertRun(ctx, db.conn, run); err != nil {
		return nil, err
	}
	return run, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRun(ctx context.Context, ex execer, run *Run) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, scheduled_for, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, formatTime(run.ScheduledFor), string(run.Status),
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get run", "run", id)
	}
	return run, err
}

// ListTaskRuns retrieves runs for a task, newest first
func (db *DB) ListTaskRuns(ctx context.Context, taskID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultRunListLimit
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE task_id = ? ORDER BY scheduled_for DESC, created_at DESC LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// ListRunsByStatus retrieves every run in status, oldest first.
func (db *DB) ListRunsByStatus(ctx context.Context, status RunStatus) ([]*Run, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY scheduled_for ASC
	`, string(status))
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

func collectRuns(rows *sql.Rows) ([]*Run, error) {
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Claim is the outcome of ClaimNextRun.
type Claim struct {
	// Run is the claimed run, now running, or the run that was skipped.
	Run *Run
	// Skipped is set when Run was failed because another run of the same
	// task was already running.
	Skipped bool
}

// ClaimNextRun moves the oldest queued run to running in one transaction. If
// another run of the same task is running, the candidate is failed with
// OverlapMessage instead. It returns nil when nothing was claimed.
func (db *DB) ClaimNextRun(ctx context.Context, now time.Time) (*Claim, error) {
	var claim *Claim
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+runColumns+` FROM runs
			WHERE status = ? ORDER BY scheduled_for ASC, created_at ASC LIMIT 1
		`, string(RunStatusQueued))
		run, err := scanRun(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		stamp := formatTime(now)

		var busy int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM runs WHERE task_id = ? AND status = ? AND id != ?
		`, run.TaskID, string(RunStatusRunning), run.ID).Scan(&busy)
		if err != nil {
			return err
		}

		if busy > 0 {
			res, err := tx.ExecContext(ctx, `
				UPDATE runs SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
				WHERE id = ? AND status = ?
			`, string(RunStatusFailed), OverlapMessage, stamp, stamp, run.ID, string(RunStatusQueued))
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return nil
			}
			msg := OverlapMessage
			finished := now.UTC()
			run.Status = RunStatusFailed
			run.ErrorMessage = &msg
			run.FinishedAt = &finished
			claim = &Claim{Run: run, Skipped: true}
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, started_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(RunStatusRunning), stamp, stamp, run.ID, string(RunStatusQueued))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		started := now.UTC()
		run.Status = RunStatusRunning
		run.StartedAt = &started
		claim = &Claim{Run: run}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}
	return claim, nil
}

// FinishSuccess moves a running run to success and stores its result
// atomically. A run that no longer exists is ignored.
func (db *DB) FinishSuccess(ctx context.Context, runID string, out Success) error {
	if out.Table == nil {
		return fmt.Errorf("finish success %s: missing result table", runID)
	}
	columns, err := marshalJSON(out.Table.Columns)
	if err != nil {
		return err
	}
	rowsJSON, err := marshalJSON(out.Table.Rows)
	if err != nil {
		return err
	}
	var usage any
	if out.TokenUsage != nil {
		s, err := marshalJSON(out.TokenUsage)
		if err != nil {
			return err
		}
		usage = s
	}

	stamp := db.stamp()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, finished_at = ?, llm_model = ?, token_usage = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(RunStatusSuccess), stamp, nullable(out.Model), usage, stamp, runID, string(RunStatusRunning))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return transitionMiss(ctx, tx, runID, RunStatusSuccess)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO results (id, run_id, schema_version, columns_json, rows_json, summary, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, newID(), runID, table.SchemaVersion, columns, rowsJSON, nullable(out.Table.Summary), stamp, stamp)
		return err
	})
}

// FinishFailed moves a queued or running run to failed with msg. A run that
// no longer exists is ignored.
func (db *DB) FinishFailed(ctx context.Context, runID, msg string) error {
	stamp := db.stamp()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
			WHERE id = ? AND status IN (?, ?)
		`, string(RunStatusFailed), msg, stamp, stamp, runID, string(RunStatusQueued), string(RunStatusRunning))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return transitionMiss(ctx, tx, runID, RunStatusFailed)
		}
		return nil
	})
}

// transitionMiss explains a compare-and-set update that touched no row: a
// deleted run is not an error, a run in the wrong state is.
func transitionMiss(ctx context.Context, tx *sql.Tx, runID string, to RunStatus) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s cannot move from %s to %s: %w", runID, status, to, ErrInvalidTransition)
}

// RecoverStaleRuns resolves runs left running by a previous worker process
// according to policy and returns how many were touched.
func (db *DB) RecoverStaleRuns(ctx context.Context, policy string) (int, error) {
	switch policy {
	case StalePolicyNone:
		return 0, nil
	case StalePolicyFail, StalePolicyRequeue:
	default:
		return 0, apperr.Errorf(apperr.Configuration, "recover stale runs", "unknown policy %q", policy)
	}

	var count int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, task_id FROM runs WHERE status = ?`, string(RunStatusRunning))
		if err != nil {
			return err
		}
		type stale struct{ id, taskID string }
		var found []stale
		for rows.Next() {
			var s stale
			if err := rows.Scan(&s.id, &s.taskID); err != nil {
				rows.Close()
				return err
			}
			found = append(found, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := db.now().UTC()
		stamp := formatTime(now)
		for _, s := range found {
			if _, err := tx.ExecContext(ctx, `
				UPDATE runs SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
				WHERE id = ? AND status = ?
			`, string(RunStatusFailed), StaleRunMessage, stamp, stamp, s.id, string(RunStatusRunning)); err != nil {
				return err
			}
			if policy == StalePolicyRequeue {
				run := &Run{ID: newID(), TaskID: s.taskID, ScheduledFor: now, Status: RunStatusQueued, CreatedAt: now, UpdatedAt: now}
				if err := insertRun(ctx, tx, run); err != nil {
					return err
				}
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale runs: %w", err)
	}
	return count, nil
}
