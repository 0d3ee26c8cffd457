// Package search queries a web search provider for evidence passed to the
// model alongside the task prompt.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dikwickley/promptoncron/internal/apperr"
)

const (
	defaultBaseURL          = "https://api.tavily.com"
	defaultTimeout          = 20 * time.Second
	defaultMaxResults       = 5
	defaultMaxResponseBytes = 512 * 1024
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a web search. Every failure is an apperr.SearchUnavailable
// error.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Tavily is a Searcher backed by the Tavily search API.
type Tavily struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewTavily returns a Tavily client. An empty apiKey yields a client whose
// every call fails with SearchUnavailable.
func NewTavily(apiKey string, timeout time.Duration) *Tavily {
	return &Tavily{APIKey: strings.TrimSpace(apiKey), Timeout: timeout}
}

func (t *Tavily) baseURL() string {
	base := strings.TrimSpace(t.BaseURL)
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}

func (t *Tavily) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return &http.Client{}
}

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// Search posts query to /search and returns at most maxResults hits.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	const op = "tavily search"
	if t.APIKey == "" {
		return nil, apperr.New(apperr.SearchUnavailable, op, "TAVILY_API_KEY not set")
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, apperr.Wrap(apperr.SearchUnavailable, op, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.baseURL()+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.SearchUnavailable, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.SearchUnavailable, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.SearchUnavailable, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 500 {
			snippet = snippet[:500] + "..."
		}
		return nil, apperr.Errorf(apperr.SearchUnavailable, op, "tavily api error: %s: %s", resp.Status, snippet)
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Errorf(apperr.SearchUnavailable, op, "decode response: %w", err)
	}

	out := make([]Result, 0, min(len(parsed.Results), maxResults))
	for _, item := range parsed.Results {
		if len(out) == maxResults {
			break
		}
		snippet := item.Content
		if snippet == "" {
			snippet = item.Snippet
		}
		out = append(out, Result{
			Title:   item.Title,
			URL:     item.URL,
			Snippet: plainText(snippet),
		})
	}
	return out, nil
}

// plainText drops any markup a provider left in a snippet.
func plainText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Query derives the search query for a task: its name, or the first line of
// its prompt truncated to 200 characters.
func Query(name, prompt string) string {
	if q := strings.TrimSpace(name); q != "" {
		return q
	}
	line := strings.TrimSpace(prompt)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if r := []rune(line); len(r) > 200 {
		line = string(r[:200])
	}
	return line
}
