package indexer

import (
	"reflect"
	"testing"
)

func TestChunker_Chunk(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		text          string
		want          []string
	}{
		{"overlapping windows", 3, 1, "one two three four five six seven",
			[]string{"one two three", "three four five", "five six seven"}},
		{"shorter than window", 5, 1, "just two", []string{"just two"}},
		{"overlap not below size", 2, 2, "a b c", []string{"a b", "b c"}},
		{"no overlap", 2, 0, "a b c d e", []string{"a b", "c d", "e"}},
		{"whitespace only", 5, 1, "   \n\t  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChunker(tt.size, tt.overlap).Chunk(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPreprocess(t *testing.T) {
	tests := map[string]string{
		"  a  b  ":             "a b",
		"line one\n\tline two": "line one line two",
		"bell\x07char":         "bellchar",
		"":                     "",
	}
	for in, want := range tests {
		if got := Preprocess(in); got != want {
			t.Errorf("Preprocess(%q) = %q, want %q", in, got, want)
		}
	}
}
