// Package hashembed implements the embedding port with a deterministic
// local hashing scheme. It is the offline fallback when no remote embedding
// backend is configured or reachable: vectors are stable across runs and
// capture token overlap, not meaning.
package hashembed

import (
	"context"
	"crypto/sha256"
	"math"

	"github.com/mnemolabs/palace/internal/domain/search"
)

// Embedder hashes tokens into a fixed-dimension sparse projection.
type Embedder struct {
	dim int
}

// New creates a hash embedder with the given dimension.
func New(dim int) *Embedder {
	if dim < 1 {
		dim = 256
	}
	return &Embedder{dim: dim}
}

// Name identifies the backend for degrade reporting.
func (e *Embedder) Name() string { return "hash" }

// Dim returns the embedding dimension.
func (e *Embedder) Dim() int { return e.dim }

// Embed projects each token into four signed buckets of the output vector,
// then L2-normalizes. Identical token sets produce identical vectors.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range search.Tokenize(text) {
		d := sha256.Sum256([]byte(tok))
		for i := 0; i < 8; i += 2 {
			bucket := (int(d[i])<<8 | int(d[i+1])) % e.dim
			weight := 1 + float32(d[(i+2)%len(d)])/255
			if d[i+1]&1 == 1 {
				weight = -weight
			}
			vec[bucket] += weight
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
