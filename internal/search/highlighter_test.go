package search

import (
	"testing"
)

func TestHighlight(t *testing.T) {
	tests := []struct {
		name    string
		content string
		query   string
		maxLen  int
		want    string
	}{
		{"short unchanged", "short", "x", 10, "short"},
		{"no limit", "x", "x", 0, "x"},
		{"no term truncates head", "long text here", "zzz", 4, "long..."},
		{"centres on term", "aaaa bbbb library cccc dddd", "library", 8, "...b librar..."},
		{"term near end", "aaaa bbbb cccc library", "library", 9, "...c library"},
		{"multibyte safe", "café café café", "", 6, "café c..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Highlight(tt.content, tt.query, tt.maxLen); got != tt.want {
				t.Errorf("Highlight() = %q, want %q", got, tt.want)
			}
		})
	}
}
