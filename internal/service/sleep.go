package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain/address"
	"github.com/mnemolabs/palace/internal/domain/memory"
	"github.com/mnemolabs/palace/internal/port/embedding"
	"github.com/mnemolabs/palace/internal/port/llm"
)

// Sleep scans the store for near-duplicate memories and fragmented
// sibling groups. It is preview-only unless the apply flags are set.
type Sleep struct {
	store  *sqlite.Store
	lane   *WriteLane
	gister llm.Gister
	cfg    config.Sleep
	log    *slog.Logger

	mu          sync.Mutex
	lastPreview *Preview
}

func NewSleep(store *sqlite.Store, lane *WriteLane, gister llm.Gister, cfg config.Sleep, log *slog.Logger) *Sleep {
	return &Sleep{store: store, lane: lane, gister: gister, cfg: cfg, log: log}
}

// TaskBody adapts Run for the index worker's sleep_consolidation hook.
func (s *Sleep) TaskBody() func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		preview, degrade, err := s.Run(ctx)
		if err == nil {
			s.mu.Lock()
			s.lastPreview = preview
			s.mu.Unlock()
		}
		return degrade, err
	}
}

// LastPreview returns the report of the most recent consolidation pass.
func (s *Sleep) LastPreview() *Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPreview
}

// DedupCluster groups memories whose vectors sit above the dedup
// threshold. The keeper is the member with the highest vitality.
type DedupCluster struct {
	Keeper  string   `json:"keeper"`
	Members []string `json:"members"`
}

// RollupGroup is a set of sibling fragments small enough to merge.
type RollupGroup struct {
	Parent        string   `json:"parent"`
	Addresses     []string `json:"addresses"`
	CombinedChars int      `json:"combined_chars"`
}

// Preview is the sleep consolidation report.
type Preview struct {
	DedupClusters []DedupCluster `json:"dedup_clusters"`
	RollupGroups  []RollupGroup  `json:"rollup_groups"`
	DedupApplied  int            `json:"dedup_applied"`
	RollupApplied int            `json:"rollup_applied"`
}

// Run produces the consolidation preview and, where the apply flags allow,
// performs the writes. It is the sleep_consolidation task body.
func (s *Sleep) Run(ctx context.Context) (*Preview, []string, error) {
	var degrade []string

	preview := &Preview{}
	clusters, err := s.findDedupClusters(ctx)
	if err != nil {
		return nil, nil, err
	}
	preview.DedupClusters = clusters

	groups, err := s.findRollupGroups(ctx)
	if err != nil {
		return nil, nil, err
	}
	preview.RollupGroups = groups

	if s.cfg.DedupApply {
		for _, cl := range clusters {
			if err := s.applyDedup(ctx, cl); err != nil {
				s.log.Warn("dedup apply failed", "keeper", cl.Keeper, "error", err)
				continue
			}
			preview.DedupApplied++
		}
	}
	if s.cfg.RollupApply {
		for _, gr := range groups {
			d, err := s.applyRollup(ctx, gr)
			degrade = append(degrade, d...)
			if err != nil {
				s.log.Warn("rollup apply failed", "parent", gr.Parent, "error", err)
				continue
			}
			preview.RollupApplied++
		}
	}
	return preview, degrade, nil
}

// findDedupClusters builds similarity clusters over the stored vectors
// using single-linkage at the dedup threshold.
func (s *Sleep) findDedupClusters(ctx context.Context) ([]DedupCluster, error) {
	vectors, err := s.store.ListVectors(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parent := make(map[string]string, len(ids))
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, id := range ids {
		parent[id] = id
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if embedding.Cosine(vectors[ids[i]], vectors[ids[j]]) >= s.cfg.DedupThreshold {
				parent[find(ids[i])] = find(ids[j])
			}
		}
	}

	groups := make(map[string][]string)
	for _, id := range ids {
		root := find(id)
		groups[root] = append(groups[root], id)
	}

	var clusters []DedupCluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		keeper, ok := s.pickKeeper(ctx, members)
		if !ok {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, DedupCluster{Keeper: keeper, Members: members})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Keeper < clusters[j].Keeper })
	return clusters, nil
}

func (s *Sleep) pickKeeper(ctx context.Context, members []string) (string, bool) {
	best := ""
	bestScore := -1.0
	live := 0
	for _, id := range members {
		mem, err := s.store.GetMemory(ctx, id)
		if err != nil || mem.Deprecated {
			continue
		}
		live++
		if mem.VitalityScore > bestScore || (mem.VitalityScore == bestScore && id < best) {
			best = id
			bestScore = mem.VitalityScore
		}
	}
	return best, live >= 2
}

// findRollupGroups collects sibling sets under a common parent whose
// combined content fits the rollup budget.
func (s *Sleep) findRollupGroups(ctx context.Context) ([]RollupGroup, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	type member struct {
		addr  address.Address
		chars int
	}
	byParent := make(map[string][]member)
	for i := range active {
		paths, err := s.store.PathsForMemory(ctx, active[i].ID)
		if err != nil || len(paths) == 0 {
			continue
		}
		a := paths[0].Address()
		p, ok := a.Parent()
		if !ok {
			continue
		}
		byParent[p.String()] = append(byParent[p.String()], member{addr: a, chars: len(active[i].Content)})
	}

	var groups []RollupGroup
	for parent, members := range byParent {
		if len(members) < 2 {
			continue
		}
		total := 0
		var addrs []string
		for _, m := range members {
			total += m.chars
			addrs = append(addrs, m.addr.String())
		}
		if total >= s.cfg.RollupMaxChars {
			continue
		}
		sort.Strings(addrs)
		groups = append(groups, RollupGroup{Parent: parent, Addresses: addrs, CombinedChars: total})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Parent < groups[j].Parent })
	return groups, nil
}

// applyDedup repoints every duplicate's paths at the keeper and deprecates
// the duplicates with a migration marker.
func (s *Sleep) applyDedup(ctx context.Context, cl DedupCluster) error {
	release, err := s.lane.Acquire(ctx, cl.Keeper)
	if err != nil {
		return err
	}
	defer release()

	for _, id := range cl.Members {
		if id == cl.Keeper {
			continue
		}
		if _, err := s.store.RepointPaths(ctx, id, cl.Keeper); err != nil {
			return err
		}
		if err := s.store.DeprecateMemory(ctx, id, cl.Keeper); err != nil {
			return err
		}
	}
	return nil
}

// applyRollup synthesizes one memory from a fragment group, records how it
// was summarized on the gist, and retires the fragments.
func (s *Sleep) applyRollup(ctx context.Context, gr RollupGroup) ([]string, error) {
	parent, err := pathResourceAddress(gr.Parent)
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, raw := range gr.Addresses {
		a, err := pathResourceAddress(raw)
		if err != nil {
			continue
		}
		mem, _, err := s.store.GetByAddress(ctx, a)
		if err != nil {
			continue
		}
		parts = append(parts, mem.Content)
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("rollup %s: fragments vanished", gr.Parent)
	}
	combined := strings.Join(parts, "\n\n")

	release, err := s.lane.Acquire(ctx, gr.Parent)
	if err != nil {
		return nil, err
	}
	defer release()

	created, err := s.store.Create(ctx, parent, combined, 0, "rollup", "")
	if err != nil {
		return nil, err
	}

	var degrade []string
	gistText, quality, method := "", 0.0, "rollup_concat"
	if s.gister != nil {
		gistText, quality, err = s.gister.Gist(ctx, combined, 3, 280)
		if err != nil || gistText == "" {
			degrade = append(degrade, "compact_gist_llm_empty")
		} else {
			method = "rollup_llm"
		}
	}
	if gistText == "" {
		gistText = snippet(combined, 280)
		quality = 0.4
	}
	err = s.store.UpsertGist(ctx, &memory.Gist{
		MemoryID:          created.Memory.ID,
		SourceContentHash: created.Memory.ContentHash,
		GistText:          gistText,
		GistMethod:        method,
		Quality:           quality,
	})
	if err != nil {
		return degrade, err
	}

	for _, raw := range gr.Addresses {
		a, err := pathResourceAddress(raw)
		if err != nil {
			continue
		}
		if _, err := s.store.DeletePath(ctx, a); err != nil {
			s.log.Warn("rollup fragment removal failed", "address", raw, "error", err)
		}
	}
	return degrade, nil
}
