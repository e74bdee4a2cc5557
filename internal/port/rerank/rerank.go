// Package rerank defines the port interface for remote rerank backends.
package rerank

import "context"

// Document is one candidate passed to the reranker.
type Document struct {
	ID   string
	Text string
}

// Score is the reranker's relevance score for one document.
type Score struct {
	ID    string
	Score float64
}

// Reranker is the port interface for relevance reranking over a candidate
// pool. Scores are normalized to [0, 1].
type Reranker interface {
	// Name identifies the backend for degrade reporting.
	Name() string

	// Rerank scores docs against the query.
	Rerank(ctx context.Context, query string, docs []Document) ([]Score, error)
}
