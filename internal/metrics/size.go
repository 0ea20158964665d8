// Package metrics computes privacy-safe size figures for text that must not
// itself be recorded (source, prompts, model replies).
package metrics

import (
	"strings"
	"unicode/utf8"
)

// Size holds byte, rune and line counts for a piece of text.
type Size struct {
	Bytes int `json:"bytes"`
	Runes int `json:"runes"`
	Lines int `json:"lines"`
}

// Measure returns the size of s. Lines is 0 for the empty string and
// otherwise 1 plus the number of newlines, so "a\n" counts as 2.
func Measure(s string) Size {
	return Size{
		Bytes: len(s),
		Runes: utf8.RuneCountInString(s),
		Lines: countLines(s),
	}
}

// Fields renders the size as telemetry fields.
func (s Size) Fields() map[string]any {
	return map[string]any{"bytes": s.Bytes, "runes": s.Runes, "lines": s.Lines}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return 1 + strings.Count(s, "\n")
}
