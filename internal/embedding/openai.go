package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for model. baseURL may be empty for the public API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dimensions int) (*OpenAIEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(options...),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed requests one embedding. The response is truncated or rejected by the cache
// when its length does not match Dimensions.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body := openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dimensions)),
	}
	res, err := e.client.Embeddings.New(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if len(res.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res.Data))
	}
	raw := res.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns the requested embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
