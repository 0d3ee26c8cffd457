// Package pipeline turns one claimed run into a validated result table:
// optional web search, prompt assembly, retrying generation and validation.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dikwickley/promptoncron/internal/apperr"
	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/llm"
	"github.com/dikwickley/promptoncron/internal/metrics"
	"github.com/dikwickley/promptoncron/internal/retry"
	"github.com/dikwickley/promptoncron/internal/search"
	"github.com/dikwickley/promptoncron/internal/table"
)

const defaultMaxResults = 5

// SnapshotStore persists search evidence for a run.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, runID, query string, results []search.Result) (*db.WebSearchSnapshot, error)
}

// Input is the task data captured when the run was claimed.
type Input struct {
	RunID     string
	TaskID    string
	TaskName  string
	Prompt    string
	WebSearch bool
}

// Pipeline executes runs. A nil Provider selects mock mode, which returns a
// fixed table without any network call.
type Pipeline struct {
	Provider   llm.Provider
	Searcher   search.Searcher
	Snapshots  SnapshotStore
	Retry      retry.Config
	MaxResults int
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	Now        func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Execute runs the pipeline for in. Any returned error is fatal for the run.
func (p *Pipeline) Execute(ctx context.Context, in Input) (*db.Success, error) {
	log := p.Logger.With().Str("run_id", in.RunID).Str("task_id", in.TaskID).Logger()

	if p.Provider == nil {
		log.Debug().Msg("mock provider, skipping search and generation")
		return &db.Success{Table: MockTable(in.TaskName, p.now())}, nil
	}

	webBlock := p.webSearch(ctx, log, in)
	req := llm.Request{System: SystemPrompt, User: UserPrompt(in.Prompt, webBlock)}

	cfg := p.Retry
	cfg.OnRetry = func(attempt int, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Msg("model call failed, retrying")
	}

	provider := p.Provider.Name()
	out, err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) (*generated, error) {
		g, err := p.generate(ctx, req)
		switch {
		case err == nil:
			p.Metrics.ModelAttempt(provider, metrics.AttemptSuccess)
		case retry.IsRetryable(err):
			p.Metrics.ModelAttempt(provider, metrics.AttemptRetryable)
		default:
			p.Metrics.ModelAttempt(provider, metrics.AttemptFatal)
		}
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("LLM failed: %w", err)
	}

	success := &db.Success{Table: out.table}
	if out.resp.Model != "" {
		model := out.resp.Model
		success.Model = &model
	}
	if u := out.resp.Usage; u != nil {
		success.TokenUsage = &db.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return success, nil
}

type generated struct {
	resp  *llm.Response
	table *table.Table
}

func (p *Pipeline) generate(ctx context.Context, req llm.Request) (*generated, error) {
	resp, err := p.Provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	t, err := table.Parse(resp.Text)
	if err != nil {
		return nil, err
	}
	return &generated{resp: resp, table: t}, nil
}

// webSearch returns the results block for the prompt, or "" when search is
// disabled or fails. A failed search never fails the run.
func (p *Pipeline) webSearch(ctx context.Context, log zerolog.Logger, in Input) string {
	if !in.WebSearch {
		return ""
	}
	if p.Searcher == nil {
		log.Warn().Msg("web search enabled but no search provider configured")
		return ""
	}

	limit := p.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}
	query := search.Query(in.TaskName, in.Prompt)

	results, err := p.Searcher.Search(ctx, query, limit)
	if err != nil {
		if !apperr.Is(err, apperr.SearchUnavailable) {
			err = apperr.Wrap(apperr.SearchUnavailable, "web search", err)
		}
		log.Warn().Err(err).Str("query", query).Msg("web search failed, continuing without results")
		return ""
	}

	if p.Snapshots != nil {
		if _, err := p.Snapshots.SaveSnapshot(ctx, in.RunID, query, results); err != nil {
			log.Warn().Err(err).Msg("failed to save web search snapshot")
			return ""
		}
	}

	block, err := WebResultsBlock(results)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode web results")
		return ""
	}
	log.Debug().Str("query", query).Int("results", len(results)).Msg("web search complete")
	return block
}

// MockTable is the fixed result produced when no provider is configured.
func MockTable(taskName string, now time.Time) *table.Table {
	summary := "mock result"
	return &table.Table{
		Columns: []table.Column{
			{Key: "timestamp", Label: "Timestamp", Type: table.TypeDate},
			{Key: "task", Label: "Task", Type: table.TypeString},
		},
		Rows: []table.Row{
			{"timestamp": now.UTC().Format(time.RFC3339Nano), "task": taskName},
		},
		Summary: &summary,
	}
}
