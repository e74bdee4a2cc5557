package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/address"
	"github.com/mnemolabs/palace/internal/domain/indexjob"
	"github.com/mnemolabs/palace/internal/domain/memory"
	"github.com/mnemolabs/palace/internal/port/llm"
)

// sessionParentPath is where flushed session contexts live in each domain.
const sessionParentPath = "sessions"

// Compactor flushes session context into the store and attaches a gist.
type Compactor struct {
	store  *sqlite.Store
	lane   *WriteLane
	worker *IndexWorker
	gister llm.Gister
	cfg    config.Compact
	domain string
	log    *slog.Logger
}

func NewCompactor(store *sqlite.Store, lane *WriteLane, worker *IndexWorker, gister llm.Gister, cfg config.Compact, homeDomain string, log *slog.Logger) *Compactor {
	if homeDomain == "" {
		homeDomain = "core"
	}
	return &Compactor{store: store, lane: lane, worker: worker, gister: gister, cfg: cfg, domain: homeDomain, log: log}
}

// CompactRequest is one compact_context call.
type CompactRequest struct {
	SessionID string
	Content   string
	Reason    string
	Force     bool
	MaxLines  int
}

// CompactResult reports the flush outcome.
type CompactResult struct {
	OK             bool                  `json:"ok"`
	SessionID      string                `json:"session_id"`
	Flushed        bool                  `json:"flushed"`
	Address        string                `json:"address,omitempty"`
	GistMethod     string                `json:"gist_method,omitempty"`
	Quality        float64               `json:"quality,omitempty"`
	SourceHash     string                `json:"source_hash,omitempty"`
	Enqueue        indexjob.EnqueueStats `json:"enqueue"`
	DegradeReasons []string              `json:"degrade_reasons,omitempty"`
	Degraded       bool                  `json:"degraded"`
}

var sessionIDSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

// Compact gists the session content, writes it under
// <domain>://sessions/<session>, and refreshes the index. Empty content is
// a no-op unless forced.
func (c *Compactor) Compact(ctx context.Context, req CompactRequest) (*CompactResult, error) {
	res := &CompactResult{OK: true, SessionID: req.SessionID}

	content := strings.TrimSpace(req.Content)
	if content == "" && !req.Force {
		return res, nil
	}
	if req.SessionID == "" {
		return nil, errors.New("session_id is required")
	}

	maxPoints := c.cfg.MaxPoints
	if req.MaxLines >= 3 {
		maxPoints = req.MaxLines
	}

	gistText, quality, method, degrade := c.gist(ctx, content, maxPoints)
	res.GistMethod = method
	res.Quality = quality
	res.DegradeReasons = degrade
	res.SourceHash = memory.HashContent(content)

	addr := c.sessionAddress(req.SessionID)
	release, err := c.lane.Acquire(ctx, addr.String())
	if err != nil {
		return nil, err
	}
	defer release()

	mem, err := c.flush(ctx, addr, content)
	if err != nil {
		return nil, err
	}
	res.Flushed = true
	res.Address = addr.String()

	err = c.store.UpsertGist(ctx, &memory.Gist{
		MemoryID:          mem.ID,
		SourceContentHash: mem.ContentHash,
		GistText:          gistText,
		GistMethod:        method,
		Quality:           quality,
	})
	if err != nil {
		return nil, err
	}
	if req.Reason != "" {
		if err := c.store.SetTags(ctx, mem.ID, []string{"compact:" + req.Reason}); err != nil {
			c.log.Warn("tagging flushed session failed", "memory_id", mem.ID, "error", err)
		}
	}

	if c.worker != nil {
		outcome, _, err := c.worker.Enqueue(ctx, indexjob.TaskReindexMemory, mem.ID, "compact_context")
		res.Enqueue.Record(outcome)
		if err != nil {
			res.DegradeReasons = append(res.DegradeReasons, "index_enqueue_dropped")
		}
	}

	res.Degraded = len(res.DegradeReasons) > 0
	return res, nil
}

// gist produces the summary, preferring the configured LLM and falling
// back to extractive head lines.
func (c *Compactor) gist(ctx context.Context, content string, maxPoints int) (text string, quality float64, method string, degrade []string) {
	if c.gister != nil {
		text, quality, err := c.gister.Gist(ctx, content, maxPoints, c.cfg.MaxChars)
		if err == nil && text != "" {
			return text, quality, "llm", nil
		}
		if err != nil {
			c.log.Warn("gist llm failed", "error", err)
		}
		degrade = append(degrade, "compact_gist_llm_empty")
	}
	return extractiveGist(content, maxPoints, c.cfg.MaxChars), 0.4, "extractive", degrade
}

// flush writes the session content, replacing an earlier flush of the
// same session through the version chain.
func (c *Compactor) flush(ctx context.Context, addr address.Address, content string) (*memory.Memory, error) {
	if id, err := c.store.ResolveAddress(ctx, addr); err == nil {
		upd, err := c.store.ReplaceContent(ctx, id, content)
		if err != nil {
			return nil, err
		}
		return upd.Memory, nil
	} else if !errors.Is(err, domain.ErrAddressNotFound) {
		return nil, err
	}

	parent := address.Address{Domain: addr.Domain, Path: sessionParentPath}
	segs := addr.Segments()
	created, err := c.store.Create(ctx, parent, content, 5, segs[len(segs)-1], "")
	if err != nil {
		return nil, err
	}
	return created.Memory, nil
}

func (c *Compactor) sessionAddress(sessionID string) address.Address {
	title := sessionIDSanitizer.ReplaceAllString(strings.ToLower(sessionID), "-")
	title = strings.Trim(title, "-")
	if title == "" {
		title = "session"
	}
	return address.Address{Domain: c.domain, Path: sessionParentPath + "/" + title}
}

// extractiveGist keeps the first non-empty lines as bullet points.
func extractiveGist(content string, maxPoints, maxChars int) string {
	var points []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		points = append(points, "- "+line)
		if len(points) >= maxPoints {
			break
		}
	}
	out := strings.Join(points, "\n")
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}
