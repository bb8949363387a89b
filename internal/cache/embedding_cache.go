package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// EmbeddingCache stores query embeddings keyed by model and query text.
type EmbeddingCache struct {
	client redisv9.Cmdable
	ttl    time.Duration
}

func NewEmbeddingCache(client redisv9.Cmdable, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &EmbeddingCache{client: client, ttl: ttl}
}

func (c *EmbeddingCache) GetEmbedding(ctx context.Context, model, text string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, c.key(model, text)).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get embedding failed: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached embedding failed: %w", err)
	}
	return vec, true, nil
}

func (c *EmbeddingCache) SetEmbedding(ctx context.Context, model, text string, vec []float32) error {
	payload, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(model, text), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set embedding failed: %w", err)
	}
	return nil
}

func (c *EmbeddingCache) DeleteEmbedding(ctx context.Context, model, text string) error {
	if err := c.client.Del(ctx, c.key(model, text)).Err(); err != nil {
		return fmt.Errorf("redis delete embedding failed: %w", err)
	}
	return nil
}

func (c *EmbeddingCache) key(model, text string) string {
	sum := blake2b.Sum256([]byte(text))
	return fmt.Sprintf("docchat:qemb:%s:%s", model, hex.EncodeToString(sum[:]))
}
