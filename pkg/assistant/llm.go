package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultOllamaModel    = "llama3.1"
	defaultOllamaURL      = "http://localhost:11434"
)

// NewLLMClientFromEnv builds an LLM client from environment configuration.
// LLM_PROVIDER selects anthropic (the default), gemini or ollama; LLM_MODEL
// overrides the provider's default model.
func NewLLMClientFromEnv(ctx context.Context, log *slog.Logger, maxTokens int64) (LLMClient, error) {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "anthropic"
	}
	model := os.Getenv("LLM_MODEL")

	switch provider {
	case "anthropic":
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		if model == "" {
			model = defaultAnthropicModel
		}
		return NewAnthropicClient(log, anthropic.Model(model), maxTokens), nil

	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		if model == "" {
			model = defaultGeminiModel
		}
		return NewGeminiClient(ctx, log, apiKey, model, maxTokens)

	case "ollama":
		baseURL := os.Getenv("OLLAMA_URL")
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaClient(log, baseURL, model, maxTokens), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider %q (want anthropic, gemini or ollama)", provider)
	}
}
