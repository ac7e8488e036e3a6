// Package llm wraps the model transport used for direct completions.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client is the single-prompt completion interface consumed by title
// generation, consolidation, and the tool-calling engine.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible endpoint (OpenRouter by
// default) through langchaingo.
type OpenAIClient struct {
	model llms.Model
}

// New creates a client for the given endpoint and model.
func New(baseURL, token, model string) (*OpenAIClient, error) {
	m, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return &OpenAIClient{model: m}, nil
}

// Complete runs one prompt through the model and returns its text output.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		return "", fmt.Errorf("generate completion: %w", err)
	}
	return out, nil
}
