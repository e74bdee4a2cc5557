// Package ristretto provides an in-process embedding vector cache backed by
// dgraph-io/ristretto. Caching embeddings keeps repeated guard checks and
// searches from re-hitting the remote embedding endpoint.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// VectorCache caches embedding vectors keyed by content hash.
type VectorCache struct {
	c *ristretto.Cache[string, []float32]
}

// NewVectorCache creates a cache bounded by maxCostBytes of vector data.
func NewVectorCache(maxCostBytes int64) (*VectorCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &VectorCache{c: c}, nil
}

// Get retrieves a cached vector.
func (v *VectorCache) Get(key string) ([]float32, bool) {
	return v.c.Get(key)
}

// Set stores a vector with the given TTL. Cost is the vector byte size.
func (v *VectorCache) Set(key string, vec []float32, ttl time.Duration) {
	v.c.SetWithTTL(key, vec, int64(len(vec)*4), ttl)
}

// Delete removes a cached vector.
func (v *VectorCache) Delete(key string) {
	v.c.Del(key)
}

// Close shuts down the cache and releases resources.
func (v *VectorCache) Close() {
	v.c.Close()
}
