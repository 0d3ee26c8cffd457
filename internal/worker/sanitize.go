package worker

import (
	"sort"
	"strings"
	"unicode"
)

// RedactionToken replaces every configured credential in stored messages.
const RedactionToken = "***REDACTED***"

const maxMessageLength = 2000

// Sanitize turns msg into a single line with every secret replaced by
// RedactionToken. Runs of whitespace and control characters become one space.
func Sanitize(msg string, secrets []string) string {
	ordered := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			ordered = append(ordered, s)
		}
	}
	// Longest first so a secret that contains another is replaced whole.
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	msg = redact(msg, ordered)
	msg = strings.Join(strings.FieldsFunc(msg, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}), " ")
	msg = redact(msg, ordered)

	if r := []rune(msg); len(r) > maxMessageLength {
		msg = string(r[:maxMessageLength]) + "..."
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return msg
}

func redact(msg string, secrets []string) string {
	for _, s := range secrets {
		msg = strings.ReplaceAll(msg, s, RedactionToken)
	}
	return msg
}
