package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hyperjump/hiddenthread/internal/apperr"
)

// Extraction is what the model found in a note.
type Extraction struct {
	Sentiments     []string `json:"sentiments"`
	Needs          []string `json:"resources_needed"`
	Availabilities []string `json:"resources_available"`
}

// NoteExtractor asks a Summarizer to extract needs and availabilities from free text.
type NoteExtractor struct {
	summarizer Summarizer
}

// NewNoteExtractor creates an extractor over s.
func NewNoteExtractor(s Summarizer) *NoteExtractor {
	return &NoteExtractor{summarizer: s}
}

// Extract prompts the model and parses its reply. Missing keys become empty lists;
// blank and duplicate entries are dropped.
func (e *NoteExtractor) Extract(ctx context.Context, note string) (*Extraction, error) {
	raw, err := e.summarizer.Summarize(ctx, ExtractionPrompt(note))
	if err != nil {
		return nil, err
	}
	var out Extraction
	if err := UnmarshalFlexible(StripFences(raw), &out); err != nil {
		return nil, apperr.Wrap(apperr.KindGenerationUnavailable, err, "model returned unparseable extraction")
	}
	out.Sentiments = clean(out.Sentiments)
	out.Needs = clean(out.Needs)
	out.Availabilities = clean(out.Availabilities)
	return &out, nil
}

func clean(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)\\n?```")

// StripFences returns the body of the first fenced code block in s, or the text between
// the first '{' and last '}' when there is no fence.
func StripFences(s string) string {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimSpace(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// UnmarshalFlexible decodes JSON that a model produced, repairing trailing commas,
// single quotes, missing brackets and similar damage when strict decoding fails.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)
	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: %w", err)
	}
	return nil
}
