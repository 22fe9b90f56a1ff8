package llmutils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/toolrelay/toolrelay/internal/schema"
)

var reThink = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Truncate shortens a string to at most n bytes, adding "..." if it was
// truncated. It never splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// StripThink removes <think>…</think> blocks that some models embed.
func StripThink(s string) string {
	return reThink.ReplaceAllString(s, "")
}

// StringOrDefault returns s if it's not empty, or def if s is empty.
func StringOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ToolHint generates a short hint string for one tool call, e.g. `weather("London")`.
func ToolHint(name string, args schema.Arguments) string {
	var first string
	for _, k := range args.Keys() {
		v, _ := args.Get(k)
		if s, ok := v.(string); ok {
			first = s
		}
		break
	}
	if first == "" {
		return name
	}
	if utf8.RuneCountInString(first) > 40 {
		first = string([]rune(first)[:40]) + "…"
	}
	return fmt.Sprintf("%s(%q)", name, first)
}

// ToolHints joins the hints of several calls.
func ToolHints(calls []schema.ProposedCall) string {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, ToolHint(c.Name, c.Arguments))
	}
	return strings.Join(parts, ", ")
}
