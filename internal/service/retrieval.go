package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain/memory"
	"github.com/mnemolabs/palace/internal/domain/search"
	"github.com/mnemolabs/palace/internal/port/embedding"
	"github.com/mnemolabs/palace/internal/port/rerank"
)

const (
	maxResultsCap         = 50
	candidateMultiplierCap = 20
	sessionRingSize       = 16
	rerankPoolFactor      = 2
)

// SearchRequest carries one search_memory call.
type SearchRequest struct {
	Query               string
	Mode                string
	MaxResults          int
	CandidateMultiplier int
	IncludeSession      *bool
	SessionID           string

	Domain       string
	PathPrefix   string
	MaxPriority  *int
	UpdatedAfter time.Time
}

// SearchHit is one ranked result.
type SearchHit struct {
	Address     string  `json:"address"`
	MemoryID    string  `json:"memory_id"`
	Snippet     string  `json:"snippet"`
	Score       float64 `json:"score"`
	TextScore   float64 `json:"text_score,omitempty"`
	VectorScore float64 `json:"vector_score,omitempty"`
	Priority    int     `json:"priority"`
	UpdatedAt   string  `json:"updated_at"`
	Session     bool    `json:"session,omitempty"`
}

// SearchCounts breaks down where results came from.
type SearchCounts struct {
	Session  int `json:"session"`
	Global   int `json:"global"`
	Returned int `json:"returned"`
}

// SearchResult is the full search_memory response.
type SearchResult struct {
	OK               bool         `json:"ok"`
	Query            string       `json:"query"`
	QueryEffective   string       `json:"query_effective"`
	QueryPreprocess  []string     `json:"query_preprocess,omitempty"`
	ModeRequested    string       `json:"mode_requested"`
	ModeApplied      string       `json:"mode_applied"`
	Intent           string       `json:"intent"`
	IntentConfidence float64      `json:"intent_confidence"`
	StrategyTemplate string       `json:"strategy_template"`
	Results          []SearchHit  `json:"results"`
	Counts           SearchCounts `json:"counts"`
	DegradeReasons   []string     `json:"degrade_reasons,omitempty"`
	Degraded         bool         `json:"degraded"`
}

// Retrieval runs the staged search pipeline: preprocess, intent classify,
// strategy select, keyword and vector stages, merge, optional rerank,
// filter and cut. Degradable stages never fail the request.
type Retrieval struct {
	store    *sqlite.Store
	embedder embedding.Embedder
	reranker rerank.Reranker
	cfg      config.Retrieval
	hybrid   search.Weights
	log      *slog.Logger
	session  *sessionRing
}

func NewRetrieval(store *sqlite.Store, embedder embedding.Embedder, reranker rerank.Reranker, cfg config.Retrieval, log *slog.Logger) *Retrieval {
	return &Retrieval{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
		hybrid:   search.Weights{Vector: cfg.HybridSemanticWeight, Text: cfg.HybridKeywordWeight},
		log:      log,
		session:  newSessionRing(sessionRingSize),
	}
}

// NoteAccess records a memory touched by a session, seeding later
// include_session searches.
func (r *Retrieval) NoteAccess(sessionID, memoryID string) {
	r.session.add(sessionID, memoryID)
}

type candidate struct {
	mem       *memory.Memory
	uri       string
	textScore float64
	vecScore  float64
	snippet   string
	session   bool
	final     float64
}

// Search executes the pipeline for one request.
func (r *Retrieval) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	res := &SearchResult{OK: true, Query: req.Query, Results: []SearchHit{}}

	// Stage 1: preprocess.
	pp := search.Preprocess(req.Query)
	res.QueryEffective = pp.Effective
	res.QueryPreprocess = pp.Steps
	if pp.Effective == "" {
		res.DegradeReasons = append(res.DegradeReasons, "query_preprocess_failed")
		res.Degraded = true
		return res, nil
	}

	// Stage 2: intent classification.
	cls := search.Classify(pp)
	res.Intent = string(cls.Intent)
	res.IntentConfidence = cls.Confidence

	// Stage 3: strategy selection.
	modeRequested := search.Mode(req.Mode)
	if req.Mode == "" {
		modeRequested = search.Mode(r.cfg.DefaultMode)
	}
	if !search.ValidMode(modeRequested) {
		modeRequested = search.ModeKeyword
	}
	res.ModeRequested = string(modeRequested)

	modeApplied := modeRequested
	if modeApplied != search.ModeKeyword && r.embedder == nil {
		modeApplied = search.ModeKeyword
		res.DegradeReasons = append(res.DegradeReasons, "embedding_request_failed")
	}

	maxResults := r.cfg.DefaultMaxResults
	if req.MaxResults != 0 {
		if req.MaxResults < 1 || req.MaxResults > maxResultsCap {
			return nil, fmt.Errorf("max_results %d out of range 1..%d", req.MaxResults, maxResultsCap)
		}
		maxResults = req.MaxResults
	}
	multiplier := r.cfg.DefaultCandidateMultiplier
	if req.CandidateMultiplier != 0 {
		if req.CandidateMultiplier < 1 || req.CandidateMultiplier > candidateMultiplierCap {
			return nil, fmt.Errorf("candidate_multiplier %d out of range 1..%d", req.CandidateMultiplier, candidateMultiplierCap)
		}
		multiplier = req.CandidateMultiplier
	}

	tmpl := search.TemplateFor(cls.Intent)
	strat := search.Select(tmpl, modeApplied, multiplier, r.hybrid)
	res.StrategyTemplate = string(strat.Template)
	poolSize := maxResults * strat.CandidateMultiplier

	pool := make(map[string]*candidate)

	// Stage 4: keyword stage.
	if modeApplied != search.ModeSemantic {
		hits, err := r.store.SearchKeyword(ctx, pp.Effective, poolSize)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			c := pool[h.MemoryID]
			if c == nil {
				c = &candidate{}
				pool[h.MemoryID] = c
			}
			if h.Score > c.textScore {
				c.textScore = h.Score
				c.snippet = h.Snippet
			}
		}
	}

	// Stage 5: vector stage.
	if modeApplied != search.ModeKeyword {
		vec, err := r.embedder.Embed(ctx, pp.Effective)
		if err != nil {
			r.log.Warn("query embedding failed", "error", err)
			res.DegradeReasons = append(res.DegradeReasons, "embedding_request_failed")
			modeApplied = search.ModeKeyword
			strat = search.Select(tmpl, modeApplied, multiplier, r.hybrid)
		} else {
			hits, err := r.store.SearchVector(ctx, vec, poolSize)
			if err != nil {
				return nil, err
			}
			for _, h := range hits {
				c := pool[h.MemoryID]
				if c == nil {
					c = &candidate{}
					pool[h.MemoryID] = c
				}
				c.vecScore = (h.Cosine + 1) / 2
			}
		}
	}
	res.ModeApplied = string(modeApplied)

	// Session seeding.
	includeSession := r.cfg.SessionFirstSearch
	if req.IncludeSession != nil {
		includeSession = *req.IncludeSession
	}
	if includeSession && req.SessionID != "" {
		for _, id := range r.session.recent(req.SessionID) {
			c := pool[id]
			if c == nil {
				c = &candidate{}
				pool[id] = c
			}
			c.session = true
		}
	}

	// Stage 6: merge. Load memories and blend per-signal scores.
	now := time.Now().UTC()
	ids := make([]string, 0, len(pool))
	for id := range pool {
		ids = append(ids, id)
	}
	for _, id := range ids {
		c := pool[id]
		mem, err := r.store.GetMemory(ctx, id)
		if err != nil || mem.Deprecated {
			delete(pool, id)
			continue
		}
		c.mem = mem
		if paths, err := r.store.PathsForMemory(ctx, id); err == nil && len(paths) > 0 {
			c.uri = paths[0].Address().String()
		}
		if c.uri == "" {
			delete(pool, id)
			continue
		}
		if c.snippet == "" {
			c.snippet = snippet(mem.Content, 160)
		}
		c.final = r.blend(c, strat.Weights, req.PathPrefix, now)
	}

	// Stage 7: rerank.
	if r.cfg.RerankerEnabled && r.reranker != nil && len(pool) > 0 {
		r.applyRerank(ctx, pp.Effective, pool, maxResults, res)
	}

	// Stage 8: filter and cut.
	kept := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		if !r.passes(c, req, strat, now) {
			continue
		}
		kept = append(kept, c)
	}
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.final != b.final {
			return a.final > b.final
		}
		if a.mem.Priority != b.mem.Priority {
			return a.mem.Priority < b.mem.Priority
		}
		if !a.mem.UpdatedAt.Equal(b.mem.UpdatedAt) {
			return a.mem.UpdatedAt.After(b.mem.UpdatedAt)
		}
		return a.mem.ID < b.mem.ID
	})
	if len(kept) > maxResults {
		kept = kept[:maxResults]
	}

	for _, c := range kept {
		res.Results = append(res.Results, SearchHit{
			Address:     c.uri,
			MemoryID:    c.mem.ID,
			Snippet:     c.snippet,
			Score:       c.final,
			TextScore:   c.textScore,
			VectorScore: c.vecScore,
			Priority:    c.mem.Priority,
			UpdatedAt:   c.mem.UpdatedAt.Format(time.RFC3339),
			Session:     c.session,
		})
		if c.session {
			res.Counts.Session++
		} else {
			res.Counts.Global++
		}
	}
	res.Counts.Returned = len(res.Results)
	res.Degraded = len(res.DegradeReasons) > 0
	return res, nil
}

// blend combines the per-signal scores with the strategy weight table.
func (r *Retrieval) blend(c *candidate, w search.Weights, pathPrefix string, now time.Time) float64 {
	priority := 1.0 / float64(1+c.mem.Priority)

	halfLife := r.cfg.RecencyHalfLifeDays
	if halfLife <= 0 {
		halfLife = 30
	}
	ageDays := now.Sub(c.mem.UpdatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Exp(-math.Ln2 * ageDays / halfLife)

	prefix := 0.0
	if pathPrefix != "" && strings.HasPrefix(c.uri, pathPrefix) {
		prefix = 1.0
	}

	return w.Text*c.textScore + w.Vector*c.vecScore +
		w.Priority*priority + w.Recency*recency + w.PathPrefix*prefix
}

// applyRerank blends remote rerank scores into the merged scores of the
// top candidates. Failures degrade without touching the existing order.
func (r *Retrieval) applyRerank(ctx context.Context, query string, pool map[string]*candidate, maxResults int, res *SearchResult) {
	top := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		top = append(top, c)
	}
	sort.Slice(top, func(i, j int) bool { return top[i].final > top[j].final })
	if limit := maxResults * rerankPoolFactor; len(top) > limit {
		top = top[:limit]
	}

	docs := make([]rerank.Document, 0, len(top))
	for _, c := range top {
		docs = append(docs, rerank.Document{ID: c.mem.ID, Text: c.mem.Content})
	}
	scores, err := r.reranker.Rerank(ctx, query, docs)
	if err != nil {
		r.log.Warn("rerank stage failed", "error", err)
		res.DegradeReasons = append(res.DegradeReasons, "reranker_request_failed")
		return
	}

	w := r.cfg.RerankerWeight
	for _, s := range scores {
		if c, ok := pool[s.ID]; ok {
			c.final = (1-w)*c.final + w*s.Score
		}
	}
}

// passes applies the request filters, the template time window and the
// minimum-score cut.
func (r *Retrieval) passes(c *candidate, req SearchRequest, strat search.Strategy, now time.Time) bool {
	if req.Domain != "" && !strings.HasPrefix(c.uri, req.Domain+"://") {
		return false
	}
	if req.PathPrefix != "" && !strings.HasPrefix(c.uri, req.PathPrefix) {
		return false
	}
	if req.MaxPriority != nil && c.mem.Priority > *req.MaxPriority {
		return false
	}
	if !req.UpdatedAfter.IsZero() && c.mem.UpdatedAt.Before(req.UpdatedAfter) {
		return false
	}
	if strat.TimeWindow > 0 && c.mem.UpdatedAt.Before(now.Add(-strat.TimeWindow)) {
		return false
	}
	if strat.MinScore > 0 && c.final < strat.MinScore && !c.session {
		return false
	}
	return true
}


// sessionRing keeps the most recent memory ids touched per session.
type sessionRing struct {
	mu   sync.Mutex
	size int
	byID map[string][]string
}

func newSessionRing(size int) *sessionRing {
	return &sessionRing{size: size, byID: make(map[string][]string)}
}

func (s *sessionRing) add(sessionID, memoryID string) {
	if sessionID == "" || memoryID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.byID[sessionID]
	for i, id := range ring {
		if id == memoryID {
			ring = append(ring[:i], ring[i+1:]...)
			break
		}
	}
	ring = append(ring, memoryID)
	if len(ring) > s.size {
		ring = ring[len(ring)-s.size:]
	}
	s.byID[sessionID] = ring
}

func (s *sessionRing) recent(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.byID[sessionID]
	out := make([]string, len(ring))
	copy(out, ring)
	return out
}
