package embcache

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/domain"
)

// CachedEmbedder is a caching decorator around an embedding provider.
type CachedEmbedder struct {
	inner domain.Embedder
	cache *Cache
}

// NewCachedEmbedder wraps inner with the in-process embedding cache.
func NewCachedEmbedder(inner domain.Embedder, cache *Cache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Embed returns a cached embedding or calls the inner embedder.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
// Cache miss: full EmbeddingResult from inner, cached on the way out.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if vec, ok := c.cache.Get(text); ok {
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	result, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}

	c.cache.Set(text, result.Embedding)
	return result, nil
}
