package ai

import (
	"fmt"
	"time"

	"docchat/internal/config"
)

const (
	ProviderCompatible = "compatible"
	ProviderOpenAI     = "openai"
	ProviderOllama     = "ollama"
	ProviderAnthropic  = "anthropic"
	ProviderHashing    = "hashing"
)

// NewCompleter builds the completion provider named by cfg.Provider.
func NewCompleter(cfg config.LLMConfig) (Completer, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var c Completer
	switch cfg.Provider {
	case ProviderCompatible, "":
		c = NewCompatibleCompleter(NewOpenAICompatibleClient(timeout), ChatConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case ProviderOpenAI:
		c = NewOpenAICompleter(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens)
	case ProviderOllama:
		oc, err := NewOllamaCompleter(cfg.BaseURL, cfg.Model, timeout)
		if err != nil {
			return nil, err
		}
		c = oc
	case ProviderAnthropic:
		c = NewAnthropicCompleter(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	return RateLimitCompleter(c, cfg.RequestsPerSecond), nil
}

// NewEmbedder builds the embedding provider named by cfg.Provider.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var e Embedder
	switch cfg.Provider {
	case ProviderCompatible, "":
		e = NewCompatibleEmbedder(NewOpenAICompatibleClient(timeout), EmbeddingConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case ProviderOpenAI:
		e = NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderOllama:
		oe, err := NewOllamaEmbedder(cfg.BaseURL, cfg.Model, timeout)
		if err != nil {
			return nil, err
		}
		e = oe
	case ProviderHashing:
		e = NewHashingEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	return RateLimitEmbedder(e, cfg.RequestsPerSecond), nil
}
