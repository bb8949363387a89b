package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
}

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, cfg EmbeddingConfig, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	reqBody := map[string]interface{}{
		"model": cfg.Model,
		"input": text,
	}
	if cfg.Dimensions > 0 {
		reqBody["dimensions"] = cfg.Dimensions
	}

	raw, err := c.post(ctx, cfg.BaseURL, cfg.APIKey, "/embeddings", reqBody)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response: %w", ErrEmptyResponse)
	}
	return parsed.Data[0].Embedding, nil
}

// CompatibleEmbedder adapts the client to Embedder.
type CompatibleEmbedder struct {
	client *OpenAICompatibleClient
	cfg    EmbeddingConfig
}

func NewCompatibleEmbedder(client *OpenAICompatibleClient, cfg EmbeddingConfig) *CompatibleEmbedder {
	return &CompatibleEmbedder{client: client, cfg: cfg}
}

func (e *CompatibleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.cfg, text)
}

func (e *CompatibleEmbedder) Model() string {
	return e.cfg.Model
}
