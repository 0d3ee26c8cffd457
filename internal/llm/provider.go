// Package llm talks to the configured language model provider.
package llm

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dikwickley/promptoncron/internal/apperr"
	"github.com/dikwickley/promptoncron/internal/config"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 2000
)

// Provider names accepted by New.
const (
	ProviderMock     = "mock"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderDeepSeek = "deepseek"
)

// Request is a single system + user prompt exchange.
type Request struct {
	System string
	User   string
}

// Usage is the token accounting reported by the provider, if any.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the raw model output.
type Response struct {
	Text  string
	Model string
	Usage *Usage
}

// Provider generates text for a prompt. Missing credentials are reported as
// apperr.Configuration, upstream failures as apperr.Provider.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// New returns the provider named by cfg.Provider, paced to one call per
// second. It returns nil for the mock provider, which makes no calls.
func New(cfg config.LLMConfig) (Provider, error) {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var p Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderMock, "":
		return nil, nil
	case ProviderOpenAI:
		p = NewOpenAI(ProviderOpenAI, cfg.OpenAIAPIKey, "", cfg.Model, timeout)
	case ProviderDeepSeek:
		p = NewOpenAI(ProviderDeepSeek, cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.Model, timeout)
	case ProviderGemini:
		p = NewGemini(cfg.GeminiAPIKey, cfg.Model, timeout)
	default:
		return nil, apperr.Errorf(apperr.Configuration, "new provider", "unsupported LLM_PROVIDER=%s", cfg.Provider)
	}
	return Paced(p, rate.NewLimiter(rate.Every(time.Second), 1)), nil
}

// Paced wraps p so calls wait on limiter first.
func Paced(p Provider, limiter *rate.Limiter) Provider {
	return &paced{next: p, limiter: limiter}
}

type paced struct {
	next    Provider
	limiter *rate.Limiter
}

func (p *paced) Name() string { return p.next.Name() }

func (p *paced) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.Provider, p.next.Name()+" generate", err)
	}
	return p.next.Generate(ctx, req)
}

func missingKey(env, provider string) error {
	return apperr.Errorf(apperr.Configuration, "generate", "%s not set (LLM_PROVIDER=%s)", env, provider)
}
