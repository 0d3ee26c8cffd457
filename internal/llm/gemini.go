package llm

import (
	"context"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dikwickley/promptoncron/internal/apperr"
)

// Gemini talks to the Google Gemini API.
type Gemini struct {
	apiKey  string
	model   string
	timeout time.Duration
}

// NewGemini returns a Gemini client for model.
func NewGemini(apiKey, model string, timeout time.Duration) *Gemini {
	return &Gemini{apiKey: strings.TrimSpace(apiKey), model: model, timeout: timeout}
}

func (g *Gemini) Name() string { return ProviderGemini }

// Generate sends one GenerateContent request with the system prompt as the
// system instruction.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	const op = "gemini generate"
	if g.apiKey == "" {
		return nil, missingKey("GEMINI_API_KEY", ProviderGemini)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, apperr.Errorf(apperr.Provider, op, "failed to create client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	model.SetTemperature(0)
	model.SetMaxOutputTokens(defaultMaxTokens)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return nil, apperr.Errorf(apperr.Provider, op, "failed to generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, apperr.New(apperr.Provider, op, "response contained no text")
	}

	out := &Response{Text: text, Model: g.model}
	if u := resp.UsageMetadata; u != nil && u.TotalTokenCount > 0 {
		out.Usage = &Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String()
}
