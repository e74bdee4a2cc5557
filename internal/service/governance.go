package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/memory"
	"github.com/mnemolabs/palace/internal/domain/review"
)

// Governance runs the periodic vitality decay and the two-phase cleanup
// review protocol. Prepare and confirm hold a short exclusive section;
// both are infrequent.
type Governance struct {
	store *sqlite.Store
	lane  *WriteLane
	cfg   config.Vitality
	log   *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewGovernance(store *sqlite.Store, lane *WriteLane, cfg config.Vitality, log *slog.Logger) *Governance {
	return &Governance{store: store, lane: lane, cfg: cfg, log: log, now: time.Now}
}

// Run ticks decay and review expiry until ctx is cancelled.
func (g *Governance) Run(ctx context.Context) {
	interval := g.cfg.DecayInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Tick runs one decay pass and purges expired reviews. Decay is idempotent
// per UTC day, so extra ticks are harmless.
func (g *Governance) Tick(ctx context.Context) {
	if n, err := g.store.DecayTick(ctx, g.cfg.DecayHalfLifeDays, g.cfg.Floor); err != nil {
		g.log.Error("vitality decay failed", "error", err)
	} else if n > 0 {
		g.log.Info("vitality decay applied", "memories", n)
	}
	if n, err := g.store.PurgeExpiredReviews(ctx); err != nil {
		g.log.Warn("purge expired reviews failed", "error", err)
	} else if n > 0 {
		g.log.Info("expired cleanup reviews purged", "count", n)
	}
}

// CleanupCandidates lists memories below the vitality threshold that have
// not been accessed within the inactivity window.
func (g *Governance) CleanupCandidates(ctx context.Context, limit int) ([]memory.Memory, error) {
	if limit < 1 {
		limit = 50
	}
	return g.store.ListCleanupCandidates(ctx, g.cfg.CleanupThreshold, g.cfg.CleanupInactiveDays, limit)
}

// PrepareCleanup verifies every selection against current store state and
// opens a pending review with a confirmation phrase.
func (g *Governance) PrepareCleanup(ctx context.Context, req review.PrepareRequest) (*review.CleanupReview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.store.PurgeExpiredReviews(ctx); err != nil {
		g.log.Warn("purge expired reviews failed", "error", err)
	}
	pending, err := g.store.CountPendingReviews(ctx)
	if err != nil {
		return nil, err
	}
	if pending >= g.cfg.MaxPendingReviews {
		return nil, domain.ErrPendingReviewsFull
	}

	for _, sel := range req.Selections {
		mem, err := g.store.GetMemory(ctx, sel.MemoryID)
		if err != nil {
			return nil, err
		}
		if memory.StateHash(mem) != sel.StateHash {
			return nil, fmt.Errorf("selection %s: %w", sel.MemoryID, domain.ErrStaleState)
		}
	}

	now := g.now().UTC()
	r := &review.CleanupReview{
		ReviewID:           "cleanup-" + randomHex(5),
		Token:              randomHex(16),
		Action:             req.Action,
		Reviewer:           req.Reviewer,
		Selections:         req.Selections,
		ConfirmationPhrase: fmt.Sprintf("CONFIRM %s %d", strings.ToUpper(string(req.Action)), len(req.Selections)),
		CreatedAt:          now,
		ExpiresAt:          now.Add(g.cfg.ReviewTTL),
	}
	if err := g.store.PutReview(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ConfirmCleanup consumes a pending review and applies its action. The
// review is one-shot: a second confirm sees review_not_found.
func (g *Governance) ConfirmCleanup(ctx context.Context, req review.ConfirmRequest) (*review.ConfirmResult, error) {
	g.mu.Lock()
	r, err := g.store.GetReview(ctx, req.ReviewID)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(r.Token), []byte(req.Token)) != 1 {
		g.mu.Unlock()
		return nil, domain.ErrReviewNotFound
	}
	if r.Expired(g.now().UTC()) {
		_ = g.store.DeleteReview(ctx, req.ReviewID)
		g.mu.Unlock()
		return nil, domain.ErrReviewExpired
	}
	if r.ConfirmationPhrase != req.ConfirmationPhrase {
		g.mu.Unlock()
		return nil, domain.ErrConfirmationPhraseMismatch
	}
	// Consume before applying: the review never runs twice.
	if err := g.store.DeleteReview(ctx, req.ReviewID); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	g.mu.Unlock()

	res := &review.ConfirmResult{Status: "ok"}
	for _, sel := range r.Selections {
		switch r.Action {
		case review.ActionDelete:
			g.applyDelete(ctx, sel, res)
		case review.ActionKeep:
			g.applyKeep(ctx, sel, res)
		}
	}
	return res, nil
}

// applyDelete purges one selected memory. Items that still have live paths
// are skipped; the review targets orphaned or deprecated records.
func (g *Governance) applyDelete(ctx context.Context, sel review.Selection, res *review.ConfirmResult) {
	release, err := g.lane.Acquire(ctx, sel.MemoryID)
	if err != nil {
		res.ErrorCount++
		return
	}
	defer release()

	mem, err := g.store.GetMemory(ctx, sel.MemoryID)
	if err != nil {
		res.ErrorCount++
		return
	}
	if memory.StateHash(mem) != sel.StateHash {
		res.ErrorCount++
		return
	}
	paths, err := g.store.PathsForMemory(ctx, sel.MemoryID)
	if err != nil {
		res.ErrorCount++
		return
	}
	if !mem.Deprecated && len(paths) > 0 {
		res.SkippedCount++
		return
	}
	for _, p := range paths {
		if _, err := g.store.DeletePath(ctx, p.Address()); err != nil {
			res.ErrorCount++
			return
		}
	}
	if err := g.store.PurgeMemory(ctx, sel.MemoryID); err != nil {
		res.ErrorCount++
		return
	}
	res.DeletedCount++
}

// applyKeep bumps the selection to full vitality.
func (g *Governance) applyKeep(ctx context.Context, sel review.Selection, res *review.ConfirmResult) {
	if err := g.store.SetVitality(ctx, sel.MemoryID, g.cfg.Max); err != nil {
		res.ErrorCount++
		return
	}
	res.KeptCount++
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
