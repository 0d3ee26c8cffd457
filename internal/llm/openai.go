package llm

import (
	"context"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/dikwickley/promptoncron/internal/apperr"
)

// OpenAI talks to the OpenAI chat completions API or any compatible endpoint
// such as DeepSeek.
type OpenAI struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
}

// NewOpenAI returns a chat completions client. An empty baseURL uses the
// OpenAI default.
func NewOpenAI(name, apiKey, baseURL, model string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		name:    name,
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   model,
		timeout: timeout,
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) envKey() string {
	return strings.ToUpper(o.name) + "_API_KEY"
}

// Generate sends one chat completion request.
func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	if o.apiKey == "" {
		return nil, missingKey(o.envKey(), o.name)
	}

	config := openai.DefaultConfig(o.apiKey)
	if o.baseURL != "" {
		config.BaseURL = o.baseURL
	}
	client := openai.NewClientWithConfig(config)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		return nil, apperr.Errorf(apperr.Provider, o.name+" generate", "failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.New(apperr.Provider, o.name+" generate", "response contained no choices")
	}

	model := resp.Model
	if model == "" {
		model = o.model
	}
	out := &Response{Text: resp.Choices[0].Message.Content, Model: model}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}
