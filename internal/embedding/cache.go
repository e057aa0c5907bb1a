package embedding

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const defaultCacheTTL = 15 * time.Minute

// Cached memoizes single-text query embeddings. Document batches pass through.
type Cached struct {
	Embedder
	cache *cache.Cache
}

// NewCached wraps e with an in-memory query cache.
func NewCached(e Embedder, ttl time.Duration) *Cached {
	return &Cached{Embedder: e, cache: cache.New(ttl, 2*ttl)}
}

// Embed serves repeated questions from the cache.
func (c *Cached) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if mode != ModeQuery || len(texts) != 1 {
		return c.Embedder.Embed(ctx, texts, mode)
	}
	key := texts[0]
	if v, ok := c.cache.Get(key); ok {
		return [][]float32{v.([]float32)}, nil
	}
	vectors, err := c.Embedder.Embed(ctx, texts, mode)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vectors[0], cache.DefaultExpiration)
	return vectors, nil
}
