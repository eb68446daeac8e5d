package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes fragment text: trims, collapses whitespace runs into one space
// and drops control characters. Embedding keys are exact-text, so every ingest path
// passes text through here first.
func Preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range strings.TrimSpace(text) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsControl(r):
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
