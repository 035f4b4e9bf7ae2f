package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OllamaClient implements LLMClient against a local Ollama server. Useful for
// development without API keys; local models are noticeably worse at SQL
// generation than the hosted providers.
type OllamaClient struct {
	log        *slog.Logger
	baseURL    string
	httpClient *http.Client
	model      string
	maxTokens  int64
}

// NewOllamaClient creates an Ollama-backed LLM client.
func NewOllamaClient(log *slog.Logger, baseURL, model string, maxTokens int64) *OllamaClient {
	return &OllamaClient{
		log:        log,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 0}, // no timeout, responses stream slowly on CPU
		model:      model,
		maxTokens:  maxTokens,
	}
}

// Complete sends a prompt to Ollama's chat endpoint and returns the response
// text. Ollama has no prompt caching, so CompleteOptions are accepted for
// interface compatibility and ignored.
func (c *OllamaClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	var options CompleteOptions
	for _, opt := range opts {
		opt(&options)
	}

	reqBody := map[string]any{
		"model":  c.model,
		"stream": false,
		"options": map[string]any{
			"num_predict": c.maxTokens,
		},
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	// Ollama responds with newline-delimited JSON even when stream is false,
	// so accumulate chunks until done.
	var fullContent strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done  bool   `json:"done"`
			Error string `json:"error,omitempty"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}

		if chunk.Error != "" {
			return "", fmt.Errorf("ollama error: %s", chunk.Error)
		}

		fullContent.WriteString(chunk.Message.Content)

		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug("assistant: ollama call completed", "model", c.model, "duration", time.Since(start))
	return fullContent.String(), nil
}
