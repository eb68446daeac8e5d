package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient calls an OpenAI-compatible chat completions endpoint (OpenAI, OpenRouter,
// a local server) with a single user message.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAIClient creates a client for model. baseURL may be empty for the public API.
func NewOpenAIClient(baseURL, apiKey, model string) (*OpenAIClient, error) {
	if model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is empty")
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries belong to the caller; the guard and breaker see every failure.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client:      openai.NewClient(options...),
		model:       model,
		temperature: 0.3,
	}, nil
}

// Summarize sends prompt as a single-turn chat and returns the reply text.
func (c *OpenAIClient) Summarize(ctx context.Context, prompt string) (string, error) {
	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(c.temperature),
	}
	response, err := c.client.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response from model")
	}
	message := strings.TrimSpace(response.Choices[0].Message.Content)
	if message == "" {
		return "", fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return message, nil
}
