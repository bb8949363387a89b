package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

func newOpenAIClient(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// OpenAICompleter uses the go-openai SDK.
type OpenAICompleter struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAICompleter(baseURL, apiKey, model string, maxTokens int) *OpenAICompleter {
	return &OpenAICompleter{client: newOpenAIClient(baseURL, apiKey), model: model, maxTokens: maxTokens}
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, temperature float64, system string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(temperature),
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", translateOpenAIError(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion failed: %w", ErrEmptyResponse)
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
		return "", ErrContentFiltered
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder uses the go-openai SDK.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: newOpenAIClient(baseURL, apiKey), model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", translateOpenAIError(err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embedding failed: %w", ErrEmptyResponse)
	}
	return resp.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return errors.Join(err, &StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return errors.Join(err, &StatusError{Code: reqErr.HTTPStatusCode, Body: reqErr.Error()})
	}
	return err
}
