// Package embedder defines the embedding adapter contract and its local
// implementation. Remote HTTP providers plug in behind the same interface;
// the core ships the local provider plus a two-level (memory + sqlite) cache.
package embedder

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/sca/pkg/types"
)

// Embedder is the embedding adapter contract. All returned vectors have
// length Dimension(); implementations are cancellation-aware and idempotent
// on identical input where the provider permits.
type Embedder interface {
	// EmbedBatch embeds texts in input order.
	EmbedBatch(rc *types.RequestContext, texts []string) ([][]float32, *types.ErrorEnvelope)
	// Dimension returns the configured vector dimension.
	Dimension() int
	// DetectDimension probes the provider for its effective dimension.
	DetectDimension(rc *types.RequestContext) (int, *types.ErrorEnvelope)
	// Provider returns the provider tag.
	Provider() string
	// Close releases pooled resources.
	Close() error
}

// ValidateBatch rejects empty batches and empty texts.
func ValidateBatch(texts []string) *types.ErrorEnvelope {
	if len(texts) == 0 {
		return types.Expected(types.CodeInvalidValue, "embedding batch must be non-empty")
	}
	for i, text := range texts {
		if text == "" {
			return types.Expected(types.CodeInvalidValue, "embedding batch contains empty text").
				WithMeta("index", strconv.Itoa(i))
		}
	}
	return nil
}

// MemoryCache is an in-process LRU cache of embeddings keyed by content hash.
type MemoryCache struct {
	cache *lru.Cache[string, []float32]
}

// NewMemoryCache creates a cache with the given capacity. Non-positive sizes
// fall back to a 10k-entry default.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := lru.New[string, []float32](maxEntries)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &MemoryCache{cache: cache}
}

// Get returns a copy of the cached vector, so callers cannot mutate the
// cached value.
func (c *MemoryCache) Get(hash string) ([]float32, bool) {
	vector, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vector))
	copy(out, vector)
	return out, true
}

// Set stores a vector under its content hash.
func (c *MemoryCache) Set(hash string, vector []float32) {
	c.cache.Add(hash, vector)
}

// Len returns the current entry count.
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

// Purge empties the cache.
func (c *MemoryCache) Purge() {
	c.cache.Purge()
}

// HashText returns the cache key for a text.
func HashText(text string) string {
	return types.HashContent([]byte(text))
}
