package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dikwickley/promptoncron/internal/db"
)

var (
	accentColor  = lipgloss.Color("#6a9bcc")
	successColor = lipgloss.Color("#788c5d")
	errorColor   = lipgloss.Color("#c45c4a")
	warningColor = lipgloss.Color("#d97757")
	dimTextColor = lipgloss.Color("#b0aea5")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimTextColor)

	// Status indicators
	statusOK = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	statusFail = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	statusRunning = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)
)

func runStatusStyle(s db.RunStatus) lipgloss.Style {
	switch s {
	case db.RunStatusSuccess:
		return statusOK
	case db.RunStatusFailed:
		return statusFail
	case db.RunStatusRunning:
		return statusRunning
	default:
		return dimStyle
	}
}

func taskStatusStyle(s db.TaskStatus) lipgloss.Style {
	if s == db.TaskStatusEnabled {
		return statusOK
	}
	return dimStyle
}

type cell struct {
	text  string
	style *lipgloss.Style
}

func plain(s string) cell { return cell{text: s} }

func styled(s string, st lipgloss.Style) cell { return cell{text: s, style: &st} }

// listing is a column-aligned table. Widths come from the unstyled text and
// padding is applied before styling, so escape codes never shift columns.
type listing struct {
	headers []string
	rows    [][]cell
}

func (l *listing) add(cells ...cell) {
	l.rows = append(l.rows, cells)
}

func (l *listing) render() string {
	widths := make([]int, len(l.headers))
	for i, h := range l.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range l.rows {
		for i, c := range row {
			if w := lipgloss.Width(c.text); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	last := len(l.headers) - 1
	for i, h := range l.headers {
		b.WriteString(headerStyle.Render(pad(h, widths[i], i == last)))
		if i < last {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")
	for _, row := range l.rows {
		for i, c := range row {
			if i > last {
				break
			}
			text := pad(c.text, widths[i], i == last)
			if c.style != nil {
				text = c.style.Render(text)
			}
			b.WriteString(text)
			if i < last {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
