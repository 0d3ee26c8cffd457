package api

import "github.com/dikwickley/promptoncron/internal/search"

// TaskCreateRequest represents a task creation request
type TaskCreateRequest struct {
	Name             string `json:"name"`
	Prompt           string `json:"prompt"`
	CronExpression   string `json:"cron_expression"`
	Timezone         string `json:"timezone"` // defaults to UTC
	WebSearchEnabled bool   `json:"web_search_enabled"`
	Status           string `json:"status"` // defaults to enabled
}

// TaskUpdateRequest represents a partial task update. Nil fields are left
// unchanged.
type TaskUpdateRequest struct {
	Name             *string `json:"name"`
	Prompt           *string `json:"prompt"`
	CronExpression   *string `json:"cron_expression"`
	Timezone         *string `json:"timezone"`
	WebSearchEnabled *bool   `json:"web_search_enabled"`
	Status           *string `json:"status"`
}

// SnapshotResponse is the web search evidence stored for a run
type SnapshotResponse struct {
	RunID   string          `json:"run_id"`
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	OK bool `json:"ok"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}
