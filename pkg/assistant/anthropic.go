package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicClient implements LLMClient using the Anthropic API.
type AnthropicClient struct {
	log       *slog.Logger
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates an Anthropic-backed LLM client. The API key is
// read from ANTHROPIC_API_KEY by the SDK.
func NewAnthropicClient(log *slog.Logger, model anthropic.Model, maxTokens int64) *AnthropicClient {
	return &AnthropicClient{
		log:       log,
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends a prompt to the Anthropic API and returns the response text.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	var options CompleteOptions
	for _, opt := range opts {
		opt(&options)
	}

	systemBlock := anthropic.TextBlockParam{Text: systemPrompt}
	if options.CacheSystemPrompt {
		// The cache has a 5-minute TTL and invalidates when the system prompt
		// content changes. Content must be at least 1,024 tokens to be
		// cacheable; the generation prompt plus the live schema clears that.
		systemBlock.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{systemBlock},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		c.log.Error("assistant: anthropic call failed", "model", c.model, "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	c.log.Debug("assistant: anthropic call completed", "model", c.model, "duration", time.Since(start), "stopReason", msg.StopReason)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
