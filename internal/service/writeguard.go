package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain/guard"
	"github.com/mnemolabs/palace/internal/domain/memory"
	"github.com/mnemolabs/palace/internal/domain/search"
	"github.com/mnemolabs/palace/internal/port/embedding"
	"github.com/mnemolabs/palace/internal/port/llm"
)

// guardCandidateLimit bounds how many near neighbors each classifier pulls.
const guardCandidateLimit = 5

// WriteGuard pre-screens content writes against existing memories. It reads
// the store but never mutates it.
type WriteGuard struct {
	store    *sqlite.Store
	embedder embedding.Embedder
	arbiter  llm.Arbiter
	cfg      config.Guard
	log      *slog.Logger
}

// NewWriteGuard wires the guard. embedder and arbiter may be nil; the ladder
// skips the corresponding rungs.
func NewWriteGuard(store *sqlite.Store, embedder embedding.Embedder, arbiter llm.Arbiter, cfg config.Guard, log *slog.Logger) *WriteGuard {
	return &WriteGuard{store: store, embedder: embedder, arbiter: arbiter, cfg: cfg, log: log}
}

type guardCandidate struct {
	mem   *memory.Memory
	uri   string
	score float64
}

// Decide runs the decision ladder for a proposed content write.
// Returned degrade reasons report classifier stages that fell through.
func (g *WriteGuard) Decide(ctx context.Context, proposal string, metaOnly bool) (guard.Verdict, []string) {
	if metaOnly {
		return guard.Bypass(), nil
	}

	var degrade []string

	// Rung 1: semantic match against stored vectors.
	semanticRan := false
	if g.embedder != nil {
		verdict, ok, err := g.semantic(ctx, proposal)
		if err != nil {
			g.log.Warn("guard semantic stage failed", "error", err)
			degrade = append(degrade, "embedding_request_failed")
		} else {
			semanticRan = true
			if ok {
				return verdict, degrade
			}
		}
	}

	// Rung 2: token-set match over the full-text index.
	keywordRan := false
	verdict, candidates, ok, err := g.keyword(ctx, proposal)
	if err != nil {
		g.log.Warn("guard keyword stage failed", "error", err)
		degrade = append(degrade, "write_guard_exception")
	} else {
		keywordRan = true
		if ok {
			return verdict, degrade
		}
	}

	// Rung 3: optional LLM arbitration over borderline candidates.
	if g.arbiter != nil && bestScore(candidates) >= g.cfg.LLMConsultThreshold {
		v, err := g.consultArbiter(ctx, proposal, candidates)
		if err != nil {
			g.log.Warn("guard llm arbitration failed", "error", err)
			degrade = append(degrade, "write_guard_exception")
		} else {
			return v, degrade
		}
	}

	// Default: ADD, tagged by the strongest classifier that completed.
	method := guard.MethodFallback
	switch {
	case semanticRan:
		method = guard.MethodEmbedding
	case keywordRan:
		method = guard.MethodKeyword
	}
	if method == guard.MethodFallback {
		degrade = append(degrade, "write_guard_fallback")
	}
	return guard.Add(method, "no strong duplicate signal", 0.5), degrade
}

// semantic embeds the proposal and checks cosine thresholds against the
// nearest stored memories.
func (g *WriteGuard) semantic(ctx context.Context, proposal string) (guard.Verdict, bool, error) {
	vec, err := g.embedder.Embed(ctx, proposal)
	if err != nil {
		return guard.Verdict{}, false, fmt.Errorf("embed proposal: %w", err)
	}
	hits, err := g.store.SearchVector(ctx, vec, guardCandidateLimit)
	if err != nil {
		return guard.Verdict{}, false, err
	}

	for _, h := range hits {
		if h.Cosine < g.cfg.SemanticUpdateThreshold {
			break
		}
		cand, err := g.loadCandidate(ctx, h.MemoryID, h.Cosine)
		if err != nil {
			continue
		}
		if h.Cosine >= g.cfg.SemanticNoopThreshold {
			return guard.Verdict{
				Action:     guard.ActionNoop,
				TargetID:   cand.mem.ID,
				TargetURI:  cand.uri,
				Method:     guard.MethodEmbedding,
				Reason:     fmt.Sprintf("near-duplicate of %s (cosine %.2f)", cand.uri, h.Cosine),
				Confidence: h.Cosine,
			}, true, nil
		}
		if supersedes(proposal, cand.mem.Content) {
			return guard.Verdict{
				Action:     guard.ActionUpdate,
				TargetID:   cand.mem.ID,
				TargetURI:  cand.uri,
				Method:     guard.MethodEmbedding,
				Reason:     fmt.Sprintf("supersedes %s (cosine %.2f)", cand.uri, h.Cosine),
				Confidence: h.Cosine,
			}, true, nil
		}
	}
	return guard.Verdict{}, false, nil
}

// keyword scores token-set Jaccard over full-text candidates. It also
// returns the candidate pool for possible LLM arbitration.
func (g *WriteGuard) keyword(ctx context.Context, proposal string) (guard.Verdict, []guardCandidate, bool, error) {
	hits, err := g.store.SearchKeyword(ctx, proposal, guardCandidateLimit)
	if err != nil {
		return guard.Verdict{}, nil, false, err
	}

	var candidates []guardCandidate
	for _, h := range hits {
		cand, err := g.loadCandidate(ctx, h.MemoryID, 0)
		if err != nil {
			continue
		}
		cand.score = search.Jaccard(proposal, cand.mem.Content)
		candidates = append(candidates, cand)
	}

	var best *guardCandidate
	for i := range candidates {
		if best == nil || candidates[i].score > best.score {
			best = &candidates[i]
		}
	}
	if best == nil {
		return guard.Verdict{}, candidates, false, nil
	}

	if best.score >= g.cfg.KeywordNoopThreshold {
		return guard.Verdict{
			Action:     guard.ActionNoop,
			TargetID:   best.mem.ID,
			TargetURI:  best.uri,
			Method:     guard.MethodKeyword,
			Reason:     fmt.Sprintf("near-duplicate of %s (jaccard %.2f)", best.uri, best.score),
			Confidence: best.score,
		}, candidates, true, nil
	}
	if best.score >= g.cfg.KeywordUpdateThreshold && supersedes(proposal, best.mem.Content) {
		return guard.Verdict{
			Action:     guard.ActionUpdate,
			TargetID:   best.mem.ID,
			TargetURI:  best.uri,
			Method:     guard.MethodKeyword,
			Reason:     fmt.Sprintf("supersedes %s (jaccard %.2f)", best.uri, best.score),
			Confidence: best.score,
		}, candidates, true, nil
	}
	return guard.Verdict{}, candidates, false, nil
}

func (g *WriteGuard) consultArbiter(ctx context.Context, proposal string, candidates []guardCandidate) (guard.Verdict, error) {
	in := make([]llm.Candidate, 0, len(candidates))
	for _, c := range candidates {
		in = append(in, llm.Candidate{ID: c.mem.ID, URI: c.uri, Content: c.mem.Content, Score: c.score})
	}
	return g.arbiter.Classify(ctx, proposal, in)
}

func (g *WriteGuard) loadCandidate(ctx context.Context, memoryID string, score float64) (guardCandidate, error) {
	m, err := g.store.GetMemory(ctx, memoryID)
	if err != nil {
		return guardCandidate{}, err
	}
	uri := ""
	if paths, err := g.store.PathsForMemory(ctx, memoryID); err == nil && len(paths) > 0 {
		uri = paths[0].Address().String()
	}
	return guardCandidate{mem: m, uri: uri, score: score}, nil
}

// supersedes decides whether the proposal should replace existing content
// rather than coexist with it.
func supersedes(proposal, existing string) bool {
	if float64(len(proposal)) > float64(len(existing))*1.2 {
		return true
	}
	return search.TokenOverlap(existing, proposal) >= 0.6
}

func bestScore(candidates []guardCandidate) float64 {
	best := 0.0
	for _, c := range candidates {
		if c.score > best {
			best = c.score
		}
	}
	return best
}
