package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dikwickley/promptoncron/internal/db"
)

// Slack handles Slack webhook notifications
type Slack struct {
	client *http.Client
}

// NewSlack creates a new Slack webhook handler
func NewSlack() *Slack {
	return &Slack{
		client: &http.Client{Timeout: sendTimeout},
	}
}

// SlackBlock represents a Slack Block Kit block
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackTextObj  `json:"text,omitempty"`
	Fields   []SlackTextObj `json:"fields,omitempty"`
	Elements []SlackElement `json:"elements,omitempty"`
}

// SlackTextObj represents a Slack text object
type SlackTextObj struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackElement represents a Slack element (for context blocks)
type SlackElement struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackAttachment represents a Slack attachment (for colored sidebar)
type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackPayload represents the webhook payload
type SlackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// BuildPayload renders a notification as Block Kit blocks.
func (s *Slack) BuildPayload(n Notification) SlackPayload {
	run := n.Run

	var color, statusEmoji, statusText string
	switch run.Status {
	case db.RunStatusSuccess:
		color = "#00FF00"
		statusEmoji = ":white_check_mark:"
		statusText = "Success"
	case db.RunStatusFailed:
		color = "#FF0000"
		statusEmoji = ":x:"
		statusText = "Failed"
	default:
		color = "#FFFF00"
		statusEmoji = ":hourglass:"
		statusText = "Running"
	}

	output := convertToSlackMarkdown(renderMarkdown(n.Result))
	if len(output) > 2500 {
		output = output[:2500] + "\n... _(truncated)_"
	}
	if output == "" {
		output = "_No result_"
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackTextObj{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s Task: %s", statusEmoji, n.Task.Name),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []SlackTextObj{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Status:*\n%s", statusText)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Duration:*\n%s", runDuration(run))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Schedule:*\n`%s` (%s)", n.Task.CronExpression, n.Task.Timezone)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Scheduled:*\n<!date^%d^{date_short} {time}|%s>", run.ScheduledFor.Unix(), run.ScheduledFor.Format(time.RFC3339))},
			},
		},
		{
			Type: "divider",
		},
		{
			Type: "section",
			Text: &SlackTextObj{
				Type: "mrkdwn",
				Text: output,
			},
		},
	}

	if msg := errorText(run); msg != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackTextObj{
				Type: "mrkdwn",
				Text: fmt.Sprintf(":warning: *Error:*\n```%s```", msg),
			},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type: "context",
		Elements: []SlackElement{
			{Type: "mrkdwn", Text: footerText},
		},
	})

	return SlackPayload{
		Text: fmt.Sprintf("Task %s: %s", n.Task.Name, statusText),
		Attachments: []SlackAttachment{
			{
				Color:  color,
				Blocks: blocks,
			},
		},
	}
}

// SendResult sends a run summary to Slack
func (s *Slack) SendResult(ctx context.Context, webhookURL string, n Notification) error {
	return postJSON(ctx, s.client, webhookURL, s.BuildPayload(n))
}

// convertToSlackMarkdown converts standard markdown to Slack's mrkdwn format:
// **bold** becomes *bold*, [text](url) becomes <url|text> and headers become
// bold lines. Code blocks are left alone.
func convertToSlackMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
		}
		if inCodeBlock {
			continue
		}

		for strings.Contains(lines[i], "**") {
			lines[i] = strings.Replace(lines[i], "**", "*", 2)
		}

		for {
			start := strings.Index(lines[i], "[")
			if start == -1 {
				break
			}
			end := strings.Index(lines[i][start:], "](")
			if end == -1 {
				break
			}
			end += start
			urlEnd := strings.Index(lines[i][end+2:], ")")
			if urlEnd == -1 {
				break
			}
			urlEnd += end + 2

			linkText := lines[i][start+1 : end]
			linkURL := lines[i][end+2 : urlEnd]
			lines[i] = lines[i][:start] + fmt.Sprintf("<%s|%s>", linkURL, linkText) + lines[i][urlEnd+1:]
		}

		if trimmed := strings.TrimSpace(lines[i]); strings.HasPrefix(trimmed, "#") {
			lines[i] = "*" + strings.TrimLeft(trimmed, "# ") + "*"
		}
	}

	return strings.Join(lines, "\n")
}
