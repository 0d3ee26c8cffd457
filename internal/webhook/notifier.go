// Package webhook posts a summary of finished runs to Discord and Slack.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/table"
)

const (
	footerText  = "promptoncron"
	maxRows     = 10
	sendTimeout = 10 * time.Second
)

// Notification describes one terminal run. Result is nil for failed runs.
type Notification struct {
	Task   *db.Task
	Run    *db.Run
	Result *db.Result
}

// Notifier fans a notification out to every configured webhook.
type Notifier struct {
	DiscordURL string
	SlackURL   string

	discord *Discord
	slack   *Slack
	log     zerolog.Logger
}

// NewNotifier returns a notifier for the given URLs. Empty URLs are skipped.
func NewNotifier(discordURL, slackURL string, log zerolog.Logger) *Notifier {
	return &Notifier{
		DiscordURL: strings.TrimSpace(discordURL),
		SlackURL:   strings.TrimSpace(slackURL),
		discord:    NewDiscord(),
		slack:      NewSlack(),
		log:        log.With().Str("component", "webhook").Logger(),
	}
}

// Enabled reports whether at least one webhook is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && (n.DiscordURL != "" || n.SlackURL != "")
}

// Notify sends n to every webhook. Failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, note Notification) {
	if !n.Enabled() || note.Task == nil || note.Run == nil {
		return
	}
	log := n.log.With().Str("run_id", note.Run.ID).Str("task_id", note.Task.ID).Logger()

	if n.DiscordURL != "" {
		if err := n.discord.SendResult(ctx, n.DiscordURL, note); err != nil {
			log.Warn().Err(err).Msg("discord webhook failed")
		}
	}
	if n.SlackURL != "" {
		if err := n.slack.SendResult(ctx, n.SlackURL, note); err != nil {
			log.Warn().Err(err).Msg("slack webhook failed")
		}
	}
}

// renderMarkdown lists up to maxRows rows as "**Label:** value" lines.
func renderMarkdown(res *db.Result) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	if res.Summary != nil && *res.Summary != "" {
		b.WriteString(*res.Summary)
		b.WriteString("\n\n")
	}
	for i, row := range res.Rows {
		if i == maxRows {
			fmt.Fprintf(&b, "*... %d more rows*\n", len(res.Rows)-maxRows)
			break
		}
		for _, col := range res.Columns {
			fmt.Fprintf(&b, "**%s:** %s\n", col.Label, formatValue(col, row[col.Key]))
		}
		if i < len(res.Rows)-1 {
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func formatValue(col table.Column, v any) string {
	if v == nil {
		return "-"
	}
	s := fmt.Sprint(v)
	if col.Type == table.TypeURL && s != "" {
		return fmt.Sprintf("[%s](%s)", s, s)
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return s
}

func runDuration(run *db.Run) string {
	if run.StartedAt == nil || run.FinishedAt == nil {
		return "-"
	}
	return run.Duration().Round(time.Millisecond).String()
}

func errorText(run *db.Run) string {
	if run.ErrorMessage == nil {
		return ""
	}
	msg := *run.ErrorMessage
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

func postJSON(ctx context.Context, client *http.Client, webhookURL string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
