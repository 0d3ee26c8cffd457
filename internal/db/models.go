package db

import (
	"time"

	"github.com/dikwickley/promptoncron/internal/search"
	"github.com/dikwickley/promptoncron/internal/table"
)

// TaskStatus controls whether the scheduler fires a task.
type TaskStatus string

const (
	TaskStatusEnabled  TaskStatus = "enabled"
	TaskStatusDisabled TaskStatus = "disabled"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	return s == TaskStatusEnabled || s == TaskStatusDisabled
}

// Task is a recurring prompt definition
type Task struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Prompt           string     `json:"prompt"`
	CronExpression   string     `json:"cron_expression"`
	Timezone         string     `json:"timezone"`
	WebSearchEnabled bool       `json:"web_search_enabled"`
	Status           TaskStatus `json:"status"`
	NextRunAt        *time.Time `json:"next_run_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Enabled reports whether the task participates in scheduling.
func (t *Task) Enabled() bool {
	return t.Status == TaskStatusEnabled
}

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// TokenUsage is the provider-reported token accounting for a run.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Run is one execution attempt of a task
type Run struct {
	ID           string      `json:"id"`
	TaskID       string      `json:"task_id"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	StartedAt    *time.Time  `json:"started_at"`
	FinishedAt   *time.Time  `json:"finished_at"`
	Status       RunStatus   `json:"status"`
	ErrorMessage *string     `json:"error_message"`
	LLMModel     *string     `json:"llm_model"`
	TokenUsage   *TokenUsage `json:"token_usage"`
	CostEstimate *float64    `json:"cost_estimate"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Duration returns the wall time between start and finish, or zero.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// Result is the table stored for a successful run
type Result struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id"`
	SchemaVersion int            `json:"schema_version"`
	Columns       []table.Column `json:"columns"`
	Rows          []table.Row    `json:"rows"`
	Summary       *string        `json:"summary"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// WebSearchSnapshot records the search performed for a run
type WebSearchSnapshot struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Query     string          `json:"query"`
	Results   []search.Result `json:"results"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Success carries everything recorded when a run completes successfully.
type Success struct {
	Table      *table.Table
	Model      *string
	TokenUsage *TokenUsage
}
