package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const taskColumns = `id, name, prompt, cron_expression, timezone, web_search_enabled, status, next_run_at, created_at, updated_at`

func scanTask(s rowScanner) (*Task, error) {
	task := &Task{}
	var next sql.NullString
	var created, updated string
	err := s.Scan(&task.ID, &task.Name, &task.Prompt, &task.CronExpression, &task.Timezone,
		&task.WebSearchEnabled, &task.Status, &next, &created, &updated)
	if err != nil {
		return nil, err
	}
	if task.NextRunAt, err = parseNullTime(next); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return task, nil
}

// CreateTask inserts task, assigning its ID and timestamps.
func (db *DB) CreateTask(ctx context.Context, task *Task) error {
	now := db.now().UTC()
	task.ID = newID()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Timezone == "" {
		task.Timezone = "UTC"
	}
	if task.Status == "" {
		task.Status = TaskStatusEnabled
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.Prompt, task.CronExpression, task.Timezone, task.WebSearchEnabled,
		string(task.Status), formatTimePtr(task.NextRunAt), formatTime(now), formatTime(now))
	return err
}

// GetTask retrieves a task by ID
func (db *DB) GetTask(ctx context.Context, id string) (*Task, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get task", "task", id)
	}
	return task, err
}

// ListTasks retrieves all tasks, newest first
func (db *DB) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask writes every mutable field of task
func (db *DB) UpdateTask(ctx context.Context, task *Task) error {
	task.UpdatedAt = db.now().UTC()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET name = ?, prompt = ?, cron_expression = ?, timezone = ?, web_search_enabled = ?,
			status = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, task.Name, task.Prompt, task.CronExpression, task.Timezone, task.WebSearchEnabled,
		string(task.Status), formatTimePtr(task.NextRunAt), formatTime(task.UpdatedAt), task.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("update task", "task", task.ID)
	}
	return nil
}

// SetNextRunAt stores the advisory next fire time. A nil next clears it.
func (db *DB) SetNextRunAt(ctx context.Context, id string, next *time.Time) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE tasks SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		formatTimePtr(next), db.stamp(), id)
	return err
}

// DeleteTask removes a task together with its runs, results and snapshots.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM web_search_snapshots WHERE run_id IN (SELECT id FROM runs WHERE task_id = ?)
		`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM results WHERE run_id IN (SELECT id FROM runs WHERE task_id = ?)
		`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE task_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("delete task", "task", id)
		}
		return nil
	})
}
