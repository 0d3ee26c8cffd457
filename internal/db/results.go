package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dikwickley/promptoncron/internal/search"
)

// GetResult retrieves the result stored for runID
func (db *DB) GetResult(ctx context.Context, runID string) (*Result, error) {
	res := &Result{}
	var columns, rows, created, updated string
	var summary sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, run_id, schema_version, columns_json, rows_json, summary, created_at, updated_at
		FROM results WHERE run_id = ?
	`, runID).Scan(&res.ID, &res.RunID, &res.SchemaVersion, &columns, &rows, &summary, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get result", "result for run", runID)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(columns), &res.Columns); err != nil {
		return nil, fmt.Errorf("invalid stored columns: %w", err)
	}
	if err := json.Unmarshal([]byte(rows), &res.Rows); err != nil {
		return nil, fmt.Errorf("invalid stored rows: %w", err)
	}
	res.Summary = nullString(summary)
	if res.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if res.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return res, nil
}

// SaveSnapshot records the search evidence for runID. A run has at most one.
func (db *DB) SaveSnapshot(ctx context.Context, runID, query string, results []search.Result) (*WebSearchSnapshot, error) {
	if results == nil {
		results = []search.Result{}
	}
	payload, err := marshalJSON(results)
	if err != nil {
		return nil, err
	}

	now := db.now().UTC()
	snap := &WebSearchSnapshot{
		ID:        newID(),
		RunID:     runID,
		Query:     query,
		Results:   results,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO web_search_snapshots (id, run_id, query, results, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ID, runID, query, payload, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return snap, nil
}

// GetSnapshot retrieves the search snapshot stored for runID
func (db *DB) GetSnapshot(ctx context.Context, runID string) (*WebSearchSnapshot, error) {
	snap := &WebSearchSnapshot{}
	var results, created, updated string
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, run_id, query, results, created_at, updated_at
		FROM web_search_snapshots WHERE run_id = ?
	`, runID).Scan(&snap.ID, &snap.RunID, &snap.Query, &results, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get snapshot", "snapshot for run", runID)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(results), &snap.Results); err != nil {
		return nil, fmt.Errorf("invalid stored search results: %w", err)
	}
	if snap.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if snap.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return snap, nil
}
