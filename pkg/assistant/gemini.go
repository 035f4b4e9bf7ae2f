package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// GeminiClient implements LLMClient using the Gemini API.
type GeminiClient struct {
	log       *slog.Logger
	client    *genai.Client
	model     string
	maxTokens int64
}

// NewGeminiClient creates a Gemini-backed LLM client.
func NewGeminiClient(ctx context.Context, log *slog.Logger, apiKey, model string, maxTokens int64) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{
		log:       log,
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Complete sends a prompt to the Gemini API and returns the response text.
// Gemini has no explicit prompt-cache control, so CompleteOptions are
// accepted for interface compatibility and ignored.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	var options CompleteOptions
	for _, opt := range opts {
		opt(&options)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		MaxOutputTokens:   int32(c.maxTokens),
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		c.log.Error("assistant: gemini call failed", "model", c.model, "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	c.log.Debug("assistant: gemini call completed", "model", c.model, "duration", time.Since(start))

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no text content in response")
	}
	return text, nil
}
