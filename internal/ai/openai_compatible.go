package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// OpenAICompatibleClient talks to any /chat/completions and /embeddings endpoint
// that follows the OpenAI wire format.
type OpenAICompatibleClient struct {
	httpClient *http.Client
}

func NewOpenAICompatibleClient(timeout time.Duration) *OpenAICompatibleClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *OpenAICompatibleClient) ChatComplete(ctx context.Context, cfg ChatConfig, messages []ChatMessage, temperature float64) (string, error) {
	reqBody := map[string]interface{}{
		"model":       cfg.Model,
		"messages":    messages,
		"temperature": temperature,
		"stream":      false,
	}
	if cfg.MaxTokens > 0 {
		reqBody["max_tokens"] = cfg.MaxTokens
	}

	raw, err := c.post(ctx, cfg.BaseURL, cfg.APIKey, "/chat/completions", reqBody)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices: %w", ErrEmptyResponse)
	}
	if parsed.Choices[0].FinishReason == "content_filter" {
		return "", ErrContentFiltered
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *OpenAICompatibleClient) post(ctx context.Context, baseURL, apiKey, path string, body any) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// CompatibleCompleter adapts the client to Completer.
type CompatibleCompleter struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
}

func NewCompatibleCompleter(client *OpenAICompatibleClient, cfg ChatConfig) *CompatibleCompleter {
	return &CompatibleCompleter{client: client, cfg: cfg}
}

func (c *CompatibleCompleter) Complete(ctx context.Context, prompt string, temperature float64, system string) (string, error) {
	messages := make([]ChatMessage, 0, 2)
	if system != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: system})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: prompt})
	return c.client.ChatComplete(ctx, c.cfg, messages, temperature)
}
