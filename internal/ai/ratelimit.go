package ai

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimitedEmbedder struct {
	Embedder
	limiter *rate.Limiter
}

func (r *rateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Embedder.Embed(ctx, text)
}

type rateLimitedCompleter struct {
	Completer
	limiter *rate.Limiter
}

func (r *rateLimitedCompleter) Complete(ctx context.Context, prompt string, temperature float64, system string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.Completer.Complete(ctx, prompt, temperature, system)
}

// RateLimitEmbedder caps calls to rps per second. rps <= 0 returns e unchanged.
func RateLimitEmbedder(e Embedder, rps float64) Embedder {
	if rps <= 0 {
		return e
	}
	return &rateLimitedEmbedder{Embedder: e, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// RateLimitCompleter caps calls to rps per second. rps <= 0 returns c unchanged.
func RateLimitCompleter(c Completer, rps float64) Completer {
	if rps <= 0 {
		return c
	}
	return &rateLimitedCompleter{Completer: c, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}
