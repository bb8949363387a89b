package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

func newOllamaClient(host string, timeout time.Duration) (*ollama.Client, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return ollama.NewClient(u, &http.Client{Timeout: timeout}), nil
}

type OllamaCompleter struct {
	client *ollama.Client
	model  string
}

func NewOllamaCompleter(host, model string, timeout time.Duration) (*OllamaCompleter, error) {
	c, err := newOllamaClient(host, timeout)
	if err != nil {
		return nil, err
	}
	return &OllamaCompleter{client: c, model: model}, nil
}

func (o *OllamaCompleter) Complete(ctx context.Context, prompt string, temperature float64, system string) (string, error) {
	stream := false
	req := &ollama.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		System:  system,
		Stream:  &stream,
		Options: map[string]any{"temperature": temperature},
	}

	var text strings.Builder
	if err := o.client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		return nil
	}); err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	return text.String(), nil
}

type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

func NewOllamaEmbedder(host, model string, timeout time.Duration) (*OllamaEmbedder, error) {
	c, err := newOllamaClient(host, timeout)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{client: c, model: model}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed failed: %w", ErrEmptyResponse)
	}
	return res.Embeddings[0], nil
}

func (e *OllamaEmbedder) Model() string {
	return e.model
}
