package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/address"
	"github.com/mnemolabs/palace/internal/domain/memory"
)

const bootRecentLimit = 10

// Resolver turns raw addresses into memories and serves the system://
// pseudo-addresses. Reads reinforce vitality as a side effect; system
// views never do.
type Resolver struct {
	store    *sqlite.Store
	cfg      config.Resolver
	vitality config.Vitality
	log      *slog.Logger
}

func NewResolver(store *sqlite.Store, cfg config.Resolver, vitality config.Vitality, log *slog.Logger) *Resolver {
	return &Resolver{store: store, cfg: cfg, vitality: vitality, log: log}
}

// Parse validates raw against the configured domain allowlist.
func (r *Resolver) Parse(raw string) (address.Address, error) {
	return address.Parse(raw, r.cfg.ValidDomains)
}

// ReadOptions selects an optional slice of the memory content.
// At most one of ChunkID, Range, MaxChars may be set.
type ReadOptions struct {
	ChunkID  *int
	Range    string // "start:end" in bytes over the full content
	MaxChars int
}

func (o ReadOptions) validate() error {
	set := 0
	if o.ChunkID != nil {
		set++
		if *o.ChunkID < 0 {
			return fmt.Errorf("chunk_id %d: %w", *o.ChunkID, domain.ErrInvalidSlice)
		}
	}
	if o.Range != "" {
		set++
	}
	if o.MaxChars != 0 {
		set++
		if o.MaxChars < 1 {
			return fmt.Errorf("max_chars %d: %w", o.MaxChars, domain.ErrInvalidSlice)
		}
	}
	if set > 1 {
		return domain.ErrInvalidSlice
	}
	return nil
}

// ReadResult is a resolved read. Exactly one of System or MemoryID is set.
type ReadResult struct {
	Address    string          `json:"address"`
	MemoryID   string          `json:"memory_id,omitempty"`
	Content    string          `json:"content"`
	Truncated  bool            `json:"truncated,omitempty"`
	TotalChars int             `json:"total_chars,omitempty"`
	ChunkSeq   *int            `json:"chunk_seq,omitempty"`
	ChunkCount int             `json:"chunk_count,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	Disclosure string          `json:"disclosure,omitempty"`
	Vitality   float64         `json:"vitality,omitempty"`
	Aliases    []string        `json:"aliases,omitempty"`
	System     *SystemView     `json:"system,omitempty"`
}

// SystemView is the structured rendering of a system:// address.
type SystemView struct {
	Kind    string        `json:"kind"`
	Entries []SystemEntry `json:"entries,omitempty"`
	Stats   *sqlite.Stats `json:"stats,omitempty"`
}

// SystemEntry is one memory line in a system view.
type SystemEntry struct {
	Address   string  `json:"address"`
	Snippet   string  `json:"snippet"`
	Vitality  float64 `json:"vitality"`
	UpdatedAt string  `json:"updated_at"`
	Core      bool    `json:"core,omitempty"`
}

// Read resolves raw and returns its content, sliced per opts. Memory reads
// bump vitality and access counters; system views are read-only.
func (r *Resolver) Read(ctx context.Context, raw string, opts ReadOptions) (*ReadResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	addr, err := r.Parse(raw)
	if err != nil {
		return nil, err
	}
	if addr.IsSystem() {
		return r.readSystem(ctx, addr)
	}

	mem, paths, err := r.store.GetByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := r.store.Reinforce(ctx, mem.ID, r.vitality.ReinforceDelta, r.vitality.Max); err != nil {
		r.log.Warn("reinforce on read failed", "memory_id", mem.ID, "error", err)
	}

	res := &ReadResult{
		Address:    addr.String(),
		MemoryID:   mem.ID,
		TotalChars: len(mem.Content),
		Priority:   mem.Priority,
		Disclosure: mem.Disclosure,
		Vitality:   mem.VitalityScore,
	}
	for _, p := range paths {
		if a := p.Address(); a != addr {
			res.Aliases = append(res.Aliases, a.String())
		}
	}

	switch {
	case opts.ChunkID != nil:
		text, err := r.store.GetChunk(ctx, mem.ID, *opts.ChunkID)
		if err != nil {
			return nil, err
		}
		count, err := r.store.CountChunks(ctx, mem.ID)
		if err != nil {
			return nil, err
		}
		res.Content = text
		res.ChunkSeq = opts.ChunkID
		res.ChunkCount = count
	case opts.Range != "":
		slice, err := sliceRange(mem.Content, opts.Range)
		if err != nil {
			return nil, err
		}
		res.Content = slice
		res.Truncated = len(slice) < len(mem.Content)
	case opts.MaxChars > 0 && opts.MaxChars < len(mem.Content):
		res.Content = mem.Content[:opts.MaxChars]
		res.Truncated = true
	default:
		res.Content = mem.Content
	}
	return res, nil
}

// readSystem serves system://boot, system://index and system://recent[/N].
func (r *Resolver) readSystem(ctx context.Context, addr address.Address) (*ReadResult, error) {
	kind, limit, err := address.ParseSystem(addr)
	if err != nil {
		return nil, err
	}
	view := &SystemView{Kind: string(kind)}

	switch kind {
	case address.SystemBoot:
		for _, uri := range r.cfg.CoreMemoryURIs {
			a, err := r.Parse(uri)
			if err != nil {
				r.log.Warn("core memory uri invalid", "uri", uri, "error", err)
				continue
			}
			mem, _, err := r.store.GetByAddress(ctx, a)
			if err != nil {
				r.log.Warn("core memory uri unresolved", "uri", uri, "error", err)
				continue
			}
			view.Entries = append(view.Entries, systemEntry(a.String(), mem, true))
		}
		recent, err := r.store.ListRecentAccessed(ctx, bootRecentLimit)
		if err != nil {
			return nil, err
		}
		if err := r.appendEntries(ctx, view, recent, false); err != nil {
			return nil, err
		}

	case address.SystemIndex:
		stats, err := r.store.GetStats(ctx)
		if err != nil {
			return nil, err
		}
		view.Stats = stats
		for _, dom := range r.cfg.ValidDomains {
			if dom == address.SystemDomain {
				continue
			}
			roots, err := r.store.ListDomainRoots(ctx, dom)
			if err != nil {
				return nil, err
			}
			for _, p := range roots {
				mem, err := r.store.GetMemory(ctx, p.MemoryID)
				if err != nil {
					continue
				}
				view.Entries = append(view.Entries, systemEntry(p.Address().String(), mem, false))
			}
		}

	case address.SystemRecent:
		recent, err := r.store.ListRecent(ctx, limit)
		if err != nil {
			return nil, err
		}
		if err := r.appendEntries(ctx, view, recent, false); err != nil {
			return nil, err
		}
	}

	return &ReadResult{
		Address: addr.String(),
		Content: renderSystemView(view),
		System:  view,
	}, nil
}

func (r *Resolver) appendEntries(ctx context.Context, view *SystemView, mems []memory.Memory, core bool) error {
	for i := range mems {
		m := &mems[i]
		uri := ""
		if paths, err := r.store.PathsForMemory(ctx, m.ID); err == nil && len(paths) > 0 {
			uri = paths[0].Address().String()
		}
		if uri == "" {
			continue // orphan, not addressable
		}
		view.Entries = append(view.Entries, systemEntry(uri, m, core))
	}
	return nil
}

func systemEntry(uri string, m *memory.Memory, core bool) SystemEntry {
	return SystemEntry{
		Address:   uri,
		Snippet:   snippet(m.Content, 160),
		Vitality:  m.VitalityScore,
		UpdatedAt: m.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Core:      core,
	}
}

// renderSystemView produces the plain-text form for clients that only
// consume content strings.
func renderSystemView(v *SystemView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# system://%s\n", v.Kind)
	if v.Stats != nil {
		fmt.Fprintf(&b, "memories=%d deprecated=%d paths=%d domains=%d chunks=%d vectors=%d\n",
			v.Stats.Memories, v.Stats.Deprecated, v.Stats.Paths, v.Stats.Domains, v.Stats.Chunks, v.Stats.Vectors)
	}
	for _, e := range v.Entries {
		marker := "-"
		if e.Core {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s (v=%.2f, %s) %s\n", marker, e.Address, e.Vitality, e.UpdatedAt, e.Snippet)
	}
	return b.String()
}

// sliceRange applies a "start:end" byte range, clamping end to the content.
func sliceRange(content, spec string) (string, error) {
	startStr, endStr, ok := strings.Cut(spec, ":")
	if !ok {
		return "", fmt.Errorf("range %q: %w", spec, domain.ErrInvalidSlice)
	}
	start, err := strconv.Atoi(startStr)
	if err != nil || start < 0 {
		return "", fmt.Errorf("range %q: %w", spec, domain.ErrInvalidSlice)
	}
	end, err := strconv.Atoi(endStr)
	if err != nil || end < start {
		return "", fmt.Errorf("range %q: %w", spec, domain.ErrInvalidSlice)
	}
	if start > len(content) {
		start = len(content)
	}
	if end > len(content) {
		end = len(content)
	}
	return content[start:end], nil
}

func snippet(content string, max int) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if len(line) > max {
		line = line[:max]
	}
	return line
}
