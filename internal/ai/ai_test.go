package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/config"
)

func newCompatServer(t *testing.T, status int, body any) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestCompatibleCompleter_Complete(t *testing.T) {
	srv, got := newCompatServer(t, http.StatusOK, map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": "Paris."}, "finish_reason": "stop"}},
	})
	c := NewCompatibleCompleter(NewOpenAICompatibleClient(time.Second), ChatConfig{BaseURL: srv.URL, APIKey: "secret", Model: "m"})

	out, err := c.Complete(context.Background(), "question", 0.1, "be brief")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", out)

	msgs := (*got)["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "question", msgs[1].(map[string]any)["content"])
	assert.InDelta(t, 0.1, (*got)["temperature"], 1e-9)
}

func TestCompatibleCompleter_ContentFilter(t *testing.T) {
	srv, _ := newCompatServer(t, http.StatusOK, map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": ""}, "finish_reason": "content_filter"}},
	})
	c := NewCompatibleCompleter(NewOpenAICompatibleClient(time.Second), ChatConfig{BaseURL: srv.URL, APIKey: "secret"})

	_, err := c.Complete(context.Background(), "q", 0, "")
	assert.ErrorIs(t, err, ErrContentFiltered)
	assert.False(t, IsTransient(err))
}

func TestCompatibleEmbedder_StatusClassification(t *testing.T) {
	tooMany, _ := newCompatServer(t, http.StatusTooManyRequests, map[string]any{"error": "slow down"})
	bad, _ := newCompatServer(t, http.StatusBadRequest, map[string]any{"error": "bad model"})
	client := NewOpenAICompatibleClient(time.Second)

	_, err := NewCompatibleEmbedder(client, EmbeddingConfig{BaseURL: tooMany.URL, APIKey: "secret"}).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	_, err = NewCompatibleEmbedder(client, EmbeddingConfig{BaseURL: bad.URL, APIKey: "secret"}).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestCompatibleEmbedder_Embed(t *testing.T) {
	srv, got := newCompatServer(t, http.StatusOK, map[string]any{
		"data": []map[string]any{{"embedding": []float32{0.5, 0.25}}},
	})
	e := NewCompatibleEmbedder(NewOpenAICompatibleClient(time.Second), EmbeddingConfig{BaseURL: srv.URL, APIKey: "secret", Model: "emb"})

	vec, err := e.Embed(context.Background(), "  hello ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
	assert.Equal(t, "hello", (*got)["input"])
	assert.Equal(t, "emb", e.Model())

	_, err = e.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHashingEmbedder(t *testing.T) {
	e := NewHashingEmbedder(512)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Paris is the capital of France.")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Paris is the capital of France.")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 512)
	assert.Equal(t, "hashing-512", e.Model())

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("connection reset")))
	assert.True(t, IsTransient(&StatusError{Code: 503}))
	assert.False(t, IsTransient(&StatusError{Code: 401}))
}

func TestRateLimit_PassThroughWhenDisabled(t *testing.T) {
	e := NewHashingEmbedder(8)
	assert.Same(t, Embedder(e), RateLimitEmbedder(e, 0))

	limited := RateLimitEmbedder(e, 1000)
	_, err := limited.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, e.Model(), limited.Model())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = RateLimitEmbedder(e, 0.001).Embed(ctx, "hello")
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	_, err := NewCompleter(config.LLMConfig{Provider: "nope"})
	assert.Error(t, err)
	_, err = NewEmbedder(config.EmbeddingConfig{Provider: ProviderAnthropic})
	assert.Error(t, err)

	e, err := NewEmbedder(config.EmbeddingConfig{Provider: ProviderHashing, Dimensions: 64})
	require.NoError(t, err)
	assert.Equal(t, "hashing-64", e.Model())

	for _, p := range []string{ProviderCompatible, ProviderOpenAI, ProviderOllama, ProviderAnthropic} {
		c, err := NewCompleter(config.LLMConfig{Provider: p, BaseURL: "http://localhost:1", Model: "m"})
		require.NoError(t, err, p)
		assert.NotNil(t, c)
	}
}
