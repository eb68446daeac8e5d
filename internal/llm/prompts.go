package llm

import (
	"fmt"
	"strings"
)

// ExtractionPrompt asks for the sentiments, needs and availabilities of a note as JSON.
func ExtractionPrompt(note string) string {
	return fmt.Sprintf(`You are an intelligent note analyzer.

Given this personal note:
"""%s"""

Extract the following:
1. Sentiments to be satisfied (e.g., happiness, public service, learning curiosity).
2. Resources needed (concrete or abstract things the user desires).
3. Resources available (concrete or abstract things the user already has access to).

Return your answer in JSON with keys: "sentiments", "resources_needed", "resources_available"`, note)
}

// SuggestionPrompt asks for an actionable suggestion connecting a need to an availability,
// optionally grounded in related notes. The output depends only on its inputs.
func SuggestionPrompt(need, availability string, related ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A person wrote this as a problem note: %q\n", need)
	fmt.Fprintf(&b, "Another resource note says: %q\n", availability)
	if len(related) > 0 {
		b.WriteString("Related notes:\n")
		for _, r := range related {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	b.WriteString("Generate a thoughtful, creative, actionable suggestion connecting the two.")
	return b.String()
}

// QueryPrompt asks for an answer to query grounded in the retrieved fragments.
func QueryPrompt(query string, fragments []string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context is not enough, say so briefly.\n\nContext:\n")
	for i, f := range fragments {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, f)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", query)
	return b.String()
}
