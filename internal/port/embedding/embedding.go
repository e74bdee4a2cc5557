// Package embedding defines the port interface for text embedding backends.
package embedding

import (
	"context"
	"math"
)

// Embedder is the port interface for computing dense text embeddings.
// Implementations must return vectors of a fixed dimension.
type Embedder interface {
	// Name identifies the backend (e.g. "hash", "api") for degrade reporting.
	Name() string

	// Dim returns the embedding dimension.
	Dim() int

	// Embed computes the embedding of one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embeddings for several texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is empty or zero-length.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
