package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"report-rag/internal/models"
)

// Cached wraps a Provider with an LRU of single-text vectors. Search uses
// it for query embeddings; batch embedding passes straight through.
type Cached struct {
	Provider
	cache *lru.Cache[string, []float32]
}

// NewCached returns p wrapped with a cache of size entries. A size of zero
// disables caching.
func NewCached(p Provider, size int) (*Cached, error) {
	c := &Cached{Provider: p}
	if size <= 0 {
		return c, nil
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("%w: init query cache: %v", models.ErrConfiguration, err)
	}
	c.cache = cache
	return c, nil
}

// EmbedQuery embeds a single text, consulting the cache first.
func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(text); ok {
			return cloneVector(v), nil
		}
	}
	vectors, err := c.Provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: provider returned %d vectors for one query", models.ErrPermanentProvider, len(vectors))
	}
	if c.cache != nil {
		c.cache.Add(text, cloneVector(vectors[0]))
	}
	return vectors[0], nil
}

// Purge drops every cached vector.
func (c *Cached) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// Len reports the number of cached queries.
func (c *Cached) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func cloneVector(src []float32) []float32 {
	if src == nil {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
