package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mnemolabs/palace/internal/adapter/ristretto"
	"github.com/mnemolabs/palace/internal/domain/memory"
)

// cacheTTL bounds how long a computed vector stays in the in-process cache.
const cacheTTL = 6 * time.Hour

// Embedder computes embeddings through an OpenAI-compatible /embeddings
// endpoint, with an optional in-process vector cache keyed by content hash.
type Embedder struct {
	client *openai.Client
	model  string
	dim    int
	remote *remote
	cache  *ristretto.VectorCache
}

// NewEmbedder creates an API-backed embedder. cache may be nil.
func NewEmbedder(apiBase, apiKey, model string, dim int, limits Limits, cache *ristretto.VectorCache) *Embedder {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	return &Embedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
		remote: newRemote(limits),
		cache:  cache,
	}
}

// Name identifies the backend for degrade reporting.
func (e *Embedder) Name() string { return "api" }

// Dim returns the configured embedding dimension.
func (e *Embedder) Dim() int { return e.dim }

// Embed returns the embedding of one text, serving cache hits locally.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := memory.HashContent(text)
	if e.cache != nil {
		if vec, ok := e.cache.Get(key); ok {
			return vec, nil
		}
	}

	vecs, err := e.embedRemote(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, vecs[0], cacheTTL)
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one remote call. Cached entries are
// served locally; only misses go over the wire.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		if e.cache != nil {
			if vec, ok := e.cache.Get(memory.HashContent(t)); ok {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.embedRemote(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if e.cache != nil {
			e.cache.Set(memory.HashContent(texts[i]), vecs[j], cacheTTL)
		}
	}
	return out, nil
}

func (e *Embedder) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openai.EmbeddingResponse
	err := e.remote.call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("create embeddings: index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
