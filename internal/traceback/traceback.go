// Package traceback turns interpreter diagnostic text into a structured,
// line-addressable error record.
//
// Parse is total: every input, however malformed, yields an Error whose Raw
// field is the input verbatim. Kind, Line and Message are best-effort.
package traceback

import (
	"regexp"
	"strconv"
	"strings"
)

// GenericKind is used when no error identifier could be found.
const GenericKind = "Error"

// Error is the structured view of a diagnostic.
type Error struct {
	Kind    string `json:"kind"`
	Line    *int   `json:"line"`
	Message string `json:"message"`
	Raw     string `json:"raw"`
}

// HasLine reports whether a source line was located.
func (e Error) HasLine() bool { return e.Line != nil }

// LineNumber returns the located source line, or 0 when none was found.
func (e Error) LineNumber() int {
	if e.Line == nil {
		return 0
	}
	return *e.Line
}

var (
	// File "<exec>", line 5   /   File "/tmp/x.py", line 12, in f
	frameLine = regexp.MustCompile(`File ".*?", line (\d+)`)

	// NameError: name 'x' is not defined
	kindWithMessage = regexp.MustCompile(`^((?:[A-Za-z_][A-Za-z0-9_]*\.)*[A-Za-z_][A-Za-z0-9_]*(?:Error|Warning)|Exception): (.*)$`)

	// NameError:   (message may be absent)
	kindOnly = regexp.MustCompile(`^((?:[A-Za-z_][A-Za-z0-9_]*\.)*[A-Za-z_][A-Za-z0-9_]*(?:Error|Warning)|Exception):`)
)

// Parse extracts kind, line and message from raw diagnostic text.
//
// The line comes from the last frame marker whose number parses, since the
// deepest frame is the most actionable. Kind and message come from the final non-empty line when it
// has the "<Kind>: <message>" shape; otherwise lines are scanned from the end
// for a "<Kind>:" prefix. When neither matches, Kind is GenericKind and
// Message is the final non-empty line.
func Parse(raw string) Error {
	e := Error{Kind: GenericKind, Raw: raw}

	// Deepest frame first; a marker whose number does not fit an int is skipped.
	m := frameLine.FindAllStringSubmatch(raw, -1)
	for i := len(m) - 1; i >= 0; i-- {
		if n, err := strconv.Atoi(m[i][1]); err == nil {
			e.Line = &n
			break
		}
	}

	lines := splitLines(raw)
	if len(lines) == 0 {
		return e
	}

	last := lines[len(lines)-1]
	e.Message = last

	if m := kindWithMessage.FindStringSubmatch(last); m != nil {
		e.Kind = m[1]
		e.Message = m[2]
		return e
	}

	for i := len(lines) - 1; i >= 0; i-- {
		loc := kindOnly.FindStringSubmatchIndex(lines[i])
		if loc == nil {
			continue
		}
		e.Kind = lines[i][loc[2]:loc[3]]
		e.Message = strings.TrimSpace(lines[i][loc[1]:])
		return e
	}
	return e
}

// splitLines returns the lines of s up to and including the last non-empty one.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
