package metrics

import "unicode/utf8"

// BlockOverhead is the fixed per-message cost added by EstimateTokens.
// Changing it requires updating the guard test.
const BlockOverhead = 4

// EstimateTokens is a deterministic input-token estimate for one text
// message: its rune count plus BlockOverhead. It overestimates for English
// text, which suits a budget guard.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) + BlockOverhead
}
