package search

import (
	"strings"
	"unicode"
)

// Highlight returns at most maxLen runes of content, centred on the first query term
// found in it. Cut ends are marked with "...". maxLen <= 0 returns content unchanged.
func Highlight(content, query string, maxLen int) string {
	runes := []rune(content)
	if maxLen <= 0 || len(runes) <= maxLen {
		return content
	}
	start := 0
	if at := firstTermIndex(runes, query); at > 0 {
		start = at - maxLen/4
		if start < 0 {
			start = 0
		}
		if start+maxLen > len(runes) {
			start = len(runes) - maxLen
		}
	}
	end := start + maxLen
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

// firstTermIndex returns the rune offset of the earliest query term in runes, or -1.
func firstTermIndex(runes []rune, query string) int {
	lower := []rune(strings.ToLower(string(runes)))
	best := -1
	terms := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, term := range terms {
		if i := runeIndex(lower, []rune(term)); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
