package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/dikwickley/promptoncron/internal/apperr"
	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/metrics"
	"github.com/dikwickley/promptoncron/internal/schedule"
	"github.com/dikwickley/promptoncron/internal/version"
)

const (
	maxNameLength     = 200
	maxCronLength     = 120
	maxTimezoneLength = 64
)

// HealthCheck handles GET /healthz
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, HealthResponse{
			OK:      false,
			Version: version.Version,
			Error:   err.Error(),
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, HealthResponse{OK: true, Version: version.Version})
}

// ListTasks handles GET /api/tasks
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch tasks", err)
		return
	}
	if tasks == nil {
		tasks = []*db.Task{}
	}
	s.jsonResponse(w, http.StatusOK, tasks)
}

// CreateTask handles POST /api/tasks
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	task := &db.Task{
		Name:             strings.TrimSpace(req.Name),
		Prompt:           req.Prompt,
		CronExpression:   strings.TrimSpace(req.CronExpression),
		Timezone:         strings.TrimSpace(req.Timezone),
		WebSearchEnabled: req.WebSearchEnabled,
		Status:           db.TaskStatus(req.Status),
	}
	if task.Timezone == "" {
		task.Timezone = "UTC"
	}
	if task.Status == "" {
		task.Status = db.TaskStatusEnabled
	}

	if err := s.prepareTask(task); err != nil {
		s.failure(w, err)
		return
	}

	if err := s.store.CreateTask(r.Context(), task); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to create task", err)
		return
	}

	s.log.Info().Str("task_id", task.ID).Str("cron", task.CronExpression).Msg("task created")
	s.jsonResponse(w, http.StatusCreated, task)
}

// GetTask handles GET /api/tasks/{id}
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, task)
}

// UpdateTask handles PATCH /api/tasks/{id}
func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}

	var req TaskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Only provided fields change
	if req.Name != nil {
		task.Name = strings.TrimSpace(*req.Name)
	}
	if req.Prompt != nil {
		task.Prompt = *req.Prompt
	}
	if req.CronExpression != nil {
		task.CronExpression = strings.TrimSpace(*req.CronExpression)
	}
	if req.Timezone != nil {
		task.Timezone = strings.TrimSpace(*req.Timezone)
	}
	if req.WebSearchEnabled != nil {
		task.WebSearchEnabled = *req.WebSearchEnabled
	}
	if req.Status != nil {
		task.Status = db.TaskStatus(*req.Status)
	}

	if err := s.prepareTask(task); err != nil {
		s.failure(w, err)
		return
	}

	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		s.failure(w, err)
		return
	}

	s.log.Info().Str("task_id", task.ID).Str("status", string(task.Status)).Msg("task updated")
	s.jsonResponse(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/tasks/{id}
func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		s.failure(w, err)
		return
	}
	s.log.Info().Str("task_id", id).Msg("task deleted")
	s.jsonResponse(w, http.StatusOK, SuccessResponse{OK: true})
}

// RunTask handles POST /api/tasks/{id}/run by queueing a run for now. The
// worker picks it up like any scheduled run.
func (s *Server) RunTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}

	run, err := s.store.EnqueueRun(r.Context(), task.ID, s.now().UTC())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to queue run", err)
		return
	}
	s.metrics.RunEnqueued(metrics.SourceManual)
	s.log.Info().Str("task_id", task.ID).Str("run_id", run.ID).Msg("manual run queued")

	s.jsonResponse(w, http.StatusAccepted, run)
}

// GetTaskRuns handles GET /api/tasks/{id}/runs
func (s *Server) GetTaskRuns(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}

	// Get limit from query params, capped at the default
	limit := db.DefaultRunListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < limit {
			limit = l
		}
	}

	runs, err := s.store.ListTaskRuns(r.Context(), task.ID, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch task runs", err)
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/{id}
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// GetResult handles GET /api/runs/{id}/result
func (s *Server) GetResult(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}
	result, err := s.store.GetResult(r.Context(), run.ID)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// GetSnapshot handles GET /api/runs/{id}/web_search_snapshot
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}
	snap, err := s.store.GetSnapshot(r.Context(), run.ID)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, SnapshotResponse{RunID: run.ID, Query: snap.Query, Results: snap.Results})
}

// Helper functions

// prepareTask validates task and derives next_run_at, which is set only for
// enabled tasks.
func (s *Server) prepareTask(task *db.Task) error {
	if err := validateTask(task); err != nil {
		return err
	}

	now := s.now().UTC()
	if err := schedule.CheckMinInterval(task.CronExpression, task.Timezone, now, s.minInterval); err != nil {
		return err
	}

	task.NextRunAt = nil
	if task.Enabled() {
		next, err := schedule.NextFire(task.CronExpression, task.Timezone, now)
		if err != nil {
			return err
		}
		task.NextRunAt = &next
	}
	return nil
}

func validateTask(task *db.Task) error {
	if n := utf8.RuneCountInString(task.Name); n == 0 || n > maxNameLength {
		return invalid("name must be 1-%d characters", maxNameLength)
	}
	if strings.TrimSpace(task.Prompt) == "" {
		return invalid("prompt is required")
	}
	if n := utf8.RuneCountInString(task.CronExpression); n == 0 || n > maxCronLength {
		return invalid("cron_expression must be 1-%d characters", maxCronLength)
	}
	if n := utf8.RuneCountInString(task.Timezone); n == 0 || n > maxTimezoneLength {
		return invalid("timezone must be 1-%d characters", maxTimezoneLength)
	}
	if _, err := schedule.LoadLocation(task.Timezone); err != nil {
		return apperr.Errorf(apperr.InvalidSchedule, "validate task", "Invalid timezone: %s", task.Timezone)
	}
	if !task.Status.Valid() {
		return invalid("status must be enabled or disabled")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return apperr.Errorf(apperr.Validation, "validate task", format, args...)
}

// failure maps a classified error to its HTTP status.
func (s *Server) failure(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.InvalidSchedule, apperr.Validation:
		s.jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: message(err), Code: kind.String()})
	case apperr.NotFound:
		s.jsonResponse(w, http.StatusNotFound, ErrorResponse{Error: message(err), Code: kind.String()})
	default:
		s.errorResponse(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// message drops the operation prefix of a classified error.
func message(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{
		Error: msg,
	}
	if err != nil {
		resp.Details = err.Error()
		if status >= http.StatusInternalServerError {
			s.log.Error().Err(err).Msg(msg)
		}
	}
	s.jsonResponse(w, status, resp)
}
