// Package llm is the boundary to text-generation models: a Summarizer interface,
// an OpenAI-compatible client, a guard that bounds every call, and the note extractor.
package llm

import (
	"context"

	"github.com/hyperjump/hiddenthread/internal/apperr"
)

// Summarizer turns a prompt into generated text. Implementations may fail or be slow;
// wrap them in a Guard before use.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, prompt string) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Disabled is the Summarizer used when no provider is configured. Every call fails with
// generation_unavailable, so queries degrade and suggestions are skipped.
type Disabled struct{}

// Summarize implements Summarizer.
func (Disabled) Summarize(context.Context, string) (string, error) {
	return "", apperr.New(apperr.KindGenerationUnavailable, "no summarizer configured")
}
