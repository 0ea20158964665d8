package session

import "strings"

// lineBuffer segments arbitrary output chunks into complete lines.
type lineBuffer struct {
	partial strings.Builder
}

// Write consumes chunk and returns the lines it completed, without their
// terminators. A trailing "\r" before "\n" is dropped.
func (b *lineBuffer) Write(chunk string) []string {
	var lines []string
	for {
		i := strings.IndexByte(chunk, '\n')
		if i < 0 {
			b.partial.WriteString(chunk)
			return lines
		}
		b.partial.WriteString(chunk[:i])
		lines = append(lines, strings.TrimSuffix(b.partial.String(), "\r"))
		b.partial.Reset()
		chunk = chunk[i+1:]
	}
}

// Flush returns the unterminated remainder as a final line, if any.
func (b *lineBuffer) Flush() []string {
	if b.partial.Len() == 0 {
		return nil
	}
	line := strings.TrimSuffix(b.partial.String(), "\r")
	b.partial.Reset()
	return []string{line}
}
