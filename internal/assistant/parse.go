package assistant

import (
	"regexp"
	"strings"
)

// Section markers of the autofix reply convention.
const (
	ExplanationMarker = "---EXPLANATION---"
	CodeMarker        = "---CODE---"
)

// AutofixResult is either Fix or Unparsed.
type AutofixResult interface {
	autofixResult()
}

// Fix is a reply that followed the two-section convention.
type Fix struct {
	Explanation string `json:"explanation"`
	Code        string `json:"code"`
}

// Unparsed is a reply that did not contain CodeMarker. Raw is the reply
// verbatim and must still be shown to the user.
type Unparsed struct {
	Raw string `json:"raw"`
}

func (Fix) autofixResult()      {}
func (Unparsed) autofixResult() {}

// ParseAutofix splits text on CodeMarker and keeps the sections on either
// side of the first one; anything after a second CodeMarker is dropped. It
// never fails.
func ParseAutofix(text string) AutofixResult {
	before, after, found := strings.Cut(text, CodeMarker)
	if !found {
		return Unparsed{Raw: text}
	}
	after, _, _ = strings.Cut(after, CodeMarker)
	explanation := strings.TrimSpace(strings.Replace(before, ExplanationMarker, "", 1))
	return Fix{Explanation: explanation, Code: StripFences(after)}
}

var (
	openFence  = regexp.MustCompile("^```[A-Za-z0-9_+-]*[ \t]*(?:\r?\n|$)")
	closeFence = regexp.MustCompile("(?:\r?\n)?```[ \t]*$")
)

// StripFences trims surrounding whitespace and removes a leading fence line,
// tagged or not, and a trailing fence, each only if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = openFence.ReplaceAllString(s, "")
	s = closeFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
