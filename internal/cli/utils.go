// Package cli renders command results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/search"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResult writes a query answer in the given format.
func WriteQueryResult(w io.Writer, res *models.QueryResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "\n%s\n\n", res.Response)
	if res.Degraded {
		fmt.Fprintln(w, "(summarizer unavailable, showing retrieved fragments)")
	}
	fmt.Fprintf(w, "Visited %d fragments in %dms: %s\n", len(res.TraversalPath), res.QueryTime, joinIDs(res.TraversalPath))
	return nil
}

// WriteMatches writes note matches in the given format.
func WriteMatches(w io.Writer, matches []models.Match, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, matches)
	}
	fmt.Fprintf(w, "\nFound %d matches\n\n", len(matches))
	for _, m := range matches {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Score: %.4f | need #%d (note %s) -> available #%d (note %s)\n",
			m.Score, m.NeedID, m.NeedNoteID, m.AvailableID, m.AvailableNoteID)
		fmt.Fprintf(w, "  need:      %s\n", Truncate(m.NeedText, 120))
		fmt.Fprintf(w, "  available: %s\n", Truncate(m.AvailableText, 120))
	}
	return nil
}

// WriteSuggestions writes drafted or stored suggestions in the given format.
func WriteSuggestions(w io.Writer, suggestions []*models.Suggestion, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, suggestions)
	}
	for _, s := range suggestions {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s  (%.2f) %s <-> %s\n", s.ID, s.Match.Score,
			TruncateWords(s.Match.NeedText, 8), TruncateWords(s.Match.AvailableText, 8))
		fmt.Fprintf(w, "\n%s\n\n", s.Text)
	}
	return nil
}

// WriteFragmentHits writes keyword lookup results in the given format.
func WriteFragmentHits(w io.Writer, hits []search.FragmentHit, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, hits)
	}
	fmt.Fprintf(w, "\nFound %d fragments\n\n", len(hits))
	for i, h := range hits {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | #%d [%s] %s", i+1, h.Score, h.Fragment.ID, h.Fragment.Category, h.Fragment.NoteID)
		if h.Match != "" {
			fmt.Fprintf(w, " | %s match", h.Match)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s\n\n", h.Snippet)
	}
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
