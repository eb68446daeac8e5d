package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// MatchType is how completely a fragment contains a keyword query.
type MatchType int

const (
	MatchNone MatchType = iota
	MatchPartial
	MatchAllWords
	MatchPhrase
)

// String returns a string representation of the match type.
func (m MatchType) String() string {
	switch m {
	case MatchPartial:
		return "partial"
	case MatchAllWords:
		return "all_words"
	case MatchPhrase:
		return "phrase"
	}
	return "none"
}

var phraseRegex = regexp.MustCompile(`"([^"]+)"`)

// AnalyzedQuery is a keyword query split into quoted phrases, plain terms and
// negated terms (prefixed with "-").
type AnalyzedQuery struct {
	Phrases []string
	Terms   []string
	Negated []string
}

// AnalyzeQuery lowercases q and splits it into phrases and terms. Boolean operators
// are ignored.
func AnalyzeQuery(q string) AnalyzedQuery {
	var a AnalyzedQuery
	for _, m := range phraseRegex.FindAllStringSubmatch(q, -1) {
		if p := strings.ToLower(strings.TrimSpace(m[1])); p != "" {
			a.Phrases = append(a.Phrases, p)
		}
	}
	for _, word := range strings.Fields(phraseRegex.ReplaceAllString(q, " ")) {
		switch strings.ToUpper(word) {
		case "AND", "OR", "NOT":
			continue
		}
		if strings.HasPrefix(word, "-") {
			if t := normalizeToken(word[1:]); t != "" {
				a.Negated = append(a.Negated, t)
			}
			continue
		}
		if t := normalizeToken(word); t != "" {
			a.Terms = append(a.Terms, t)
		}
	}
	return a
}

// Text returns the phrases and terms joined for the keyword index.
func (a AnalyzedQuery) Text() string {
	return strings.Join(append(append([]string{}, a.Phrases...), a.Terms...), " ")
}

func normalizeToken(token string) string {
	return strings.TrimFunc(strings.ToLower(token), func(r rune) bool {
		return unicode.IsPunct(r) && r != '-' && r != '_'
	})
}

// Classify returns the match type of text for the query and whether it contains a
// negated term.
func (a AnalyzedQuery) Classify(text string) (MatchType, bool) {
	lower := strings.ToLower(text)
	for _, n := range a.Negated {
		if strings.Contains(lower, n) {
			return MatchNone, true
		}
	}
	for _, p := range a.Phrases {
		if strings.Contains(lower, p) {
			return MatchPhrase, false
		}
	}
	var words []string
	for _, p := range a.Phrases {
		words = append(words, strings.Fields(p)...)
	}
	words = append(words, a.Terms...)
	matched := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			matched++
		}
	}
	switch {
	case matched == 0:
		return MatchNone, false
	case matched == len(words):
		return MatchAllWords, false
	}
	return MatchPartial, false
}

// rerank drops hits containing a negated term and orders the rest by match type, then
// score, then fragment id.
func rerank(a AnalyzedQuery, hits []FragmentHit) []FragmentHit {
	out := hits[:0]
	for _, h := range hits {
		mt, negated := a.Classify(h.Fragment.Text)
		if negated {
			continue
		}
		h.Match = mt.String()
		h.matchType = mt
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].matchType != out[j].matchType {
			return out[i].matchType > out[j].matchType
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Fragment.ID < out[j].Fragment.ID
	})
	return out
}
