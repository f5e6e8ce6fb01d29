package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/facilitycore/orchestrator/platform"
)

// OpenAIAdapter implements Client over the OpenAI chat-completions HTTP
// surface. Grounded directly on gomind's ai.OpenAIClient, adapted from the
// core.AIResponse-returning contract to this package's plain
// Invoke(prompt, options) (string, error) contract.
type OpenAIAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     platform.Logger
}

// NewOpenAIAdapter builds an adapter; apiKey falls back to OPENAI_API_KEY
// when empty, matching gomind's client construction convention.
func NewOpenAIAdapter(apiKey string, logger platform.Logger) *OpenAIAdapter {
	return NewOpenAIAdapterWithBaseURL(apiKey, "https://api.openai.com/v1", logger)
}

// NewOpenAIAdapterWithBaseURL is NewOpenAIAdapter with an overridable base
// URL, used in production against regional/self-hosted gateways and in
// tests against an httptest server.
func NewOpenAIAdapterWithBaseURL(apiKey, baseURL string, logger platform.Logger) *OpenAIAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	return &OpenAIAdapter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Invoke implements Client.
func (c *OpenAIAdapter) Invoke(ctx context.Context, prompt string, options Options) (string, error) {
	if c.apiKey == "" {
		return "", &FatalError{Err: fmt.Errorf("openai api key not configured")}
	}

	if options.Timeout <= 0 {
		options.Timeout = DefaultOptions().Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	model := options.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	reqBody := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": options.Temperature,
		"max_tokens":  options.MaxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &TransientError{Err: ctx.Err()}
		}
		return "", &TransientError{Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &TransientError{Err: fmt.Errorf("openai status %d: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &FatalError{Err: fmt.Errorf("openai status %d: %s", resp.StatusCode, string(body))}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &FatalError{Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &FatalError{Err: fmt.Errorf("openai: empty choices")}
	}

	return parsed.Choices[0].Message.Content, nil
}

var _ Client = (*OpenAIAdapter)(nil)
