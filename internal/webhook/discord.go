package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dikwickley/promptoncron/internal/db"
)

// Discord handles Discord webhook notifications
type Discord struct {
	client *http.Client
}

// NewDiscord creates a new Discord webhook handler
func NewDiscord() *Discord {
	return &Discord{
		client: &http.Client{Timeout: sendTimeout},
	}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordPayload represents the webhook payload
type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// BuildPayload renders a notification as a single embed.
func (d *Discord) BuildPayload(n Notification) DiscordPayload {
	run := n.Run

	var color int
	var statusEmoji string
	switch run.Status {
	case db.RunStatusSuccess:
		color = 0x00FF00
		statusEmoji = "✅"
	case db.RunStatusFailed:
		color = 0xFF0000
		statusEmoji = "❌"
	default:
		color = 0xFFFF00
		statusEmoji = "⏳"
	}

	// Embed descriptions are capped at 4096 characters.
	output := renderMarkdown(n.Result)
	if len(output) > 3500 {
		output = output[:3500] + "\n\n*... (truncated)*"
	}
	if output == "" {
		output = "*No result*"
	}

	embed := DiscordEmbed{
		Title:       fmt.Sprintf("%s Task: %s", statusEmoji, n.Task.Name),
		Description: output,
		Color:       color,
		Fields: []EmbedField{
			{Name: "Status", Value: string(run.Status), Inline: true},
			{Name: "Duration", Value: runDuration(run), Inline: true},
			{Name: "Schedule", Value: fmt.Sprintf("`%s` (%s)", n.Task.CronExpression, n.Task.Timezone), Inline: true},
		},
		Timestamp: run.ScheduledFor.Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: footerText},
	}

	if run.LLMModel != nil {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Model", Value: *run.LLMModel, Inline: true})
	}
	if msg := errorText(run); msg != "" {
		embed.Fields = append(embed.Fields, EmbedField{
			Name:   "⚠️ Error",
			Value:  fmt.Sprintf("```\n%s\n```", msg),
			Inline: false,
		})
	}

	return DiscordPayload{Embeds: []DiscordEmbed{embed}}
}

// SendResult sends a run summary to Discord
func (d *Discord) SendResult(ctx context.Context, webhookURL string, n Notification) error {
	return postJSON(ctx, d.client, webhookURL, d.BuildPayload(n))
}
