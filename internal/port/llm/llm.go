// Package llm defines the port interfaces for optional LLM assistance:
// write-guard arbitration and gist generation.
package llm

import (
	"context"

	"github.com/mnemolabs/palace/internal/domain/guard"
)

// Candidate is an existing memory presented to the arbiter.
type Candidate struct {
	ID      string
	URI     string
	Content string
	Score   float64
}

// Arbiter classifies a proposed write against near-duplicate candidates.
// Implementations must be safe to call concurrently.
type Arbiter interface {
	// Classify returns a verdict in {ADD, UPDATE, NOOP, DELETE} with a reason.
	Classify(ctx context.Context, proposal string, candidates []Candidate) (guard.Verdict, error)
}

// Gister produces a short summary of session content.
type Gister interface {
	// Gist returns the summary text and a quality score in [0, 1].
	Gist(ctx context.Context, content string, maxPoints, maxChars int) (string, float64, error)
}
