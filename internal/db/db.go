package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/dikwickley/promptoncron/internal/apperr"
)

// Supported database/sql driver names.
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// Instants are stored as fixed-width UTC text so lexical order is time order
// under either driver.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is wrapped by every lookup that finds no row.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a run is not in a state that allows
// the requested transition.
var ErrInvalidTransition = errors.New("invalid run status transition")

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens (creating if needed) the database at dbPath and ensures the schema.
func New(driver, dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	dsn, err := dataSourceName(driver, dbPath)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers in-process; busy_timeout covers the
	// api, scheduler and worker sharing the file.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func dataSourceName(driver, path string) (string, error) {
	switch driver {
	case DriverCGO:
		return path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", nil
	case DriverPureGo:
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// SetClock replaces the time source used for created_at/updated_at and
// terminal timestamps.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		prompt TEXT NOT NULL,
		cron_expression TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		web_search_enabled INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'enabled',
		next_run_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		scheduled_for TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		error_message TEXT,
		llm_model TEXT,
		token_usage TEXT,
		cost_estimate REAL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status_scheduled_for ON runs(status, scheduled_for);
	CREATE INDEX IF NOT EXISTS idx_runs_task_id_status ON runs(task_id, status);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL UNIQUE,
		schema_version INTEGER NOT NULL DEFAULT 1,
		columns_json TEXT NOT NULL,
		rows_json TEXT NOT NULL,
		summary TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS web_search_snapshots (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL UNIQUE,
		query TEXT NOT NULL,
		results TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func newID() string {
	return uuid.NewString()
}

func (db *DB) stamp() string {
	return formatTime(db.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func notFound(op, what, id string) error {
	return apperr.Errorf(apperr.NotFound, op, "%s %s: %w", what, id, ErrNotFound)
}

// withTx runs fn in a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
