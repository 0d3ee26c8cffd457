package table

import (
	"fmt"
	"strconv"
	"strings"
)

// Markdown renders the table as a GitHub-flavored markdown table followed by
// the summary, if any. Null cells render as empty.
func (t *Table) Markdown() string {
	var b strings.Builder

	b.WriteString("|")
	for _, c := range t.Columns {
		b.WriteString(" " + escapeCell(c.Label) + " |")
	}
	b.WriteString("\n|")
	for _, c := range t.Columns {
		if c.Type == TypeNumber {
			b.WriteString(" ---: |")
		} else {
			b.WriteString(" --- |")
		}
	}
	b.WriteString("\n")

	for _, row := range t.Rows {
		b.WriteString("|")
		for _, c := range t.Columns {
			b.WriteString(" " + escapeCell(FormatCell(c, row[c.Key])) + " |")
		}
		b.WriteString("\n")
	}

	if t.Summary != nil && *t.Summary != "" {
		b.WriteString("\n")
		b.WriteString(*t.Summary)
		b.WriteString("\n")
	}
	return b.String()
}

// FormatCell renders one cell value as text for column c.
func FormatCell(c Column, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		if c.Type == TypeURL && x != "" {
			return fmt.Sprintf("<%s>", x)
		}
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
