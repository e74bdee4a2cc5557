package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain/guard"
	"github.com/mnemolabs/palace/internal/domain/indexjob"
	"github.com/mnemolabs/palace/internal/domain/memory"
	"github.com/mnemolabs/palace/internal/domain/snapshot"
)

// Memories orchestrates the write path: resolve, guard, lane, snapshot,
// mutate, index enqueue. Every mutation leaves a pre-state snapshot in the
// session ledger.
type Memories struct {
	store     *sqlite.Store
	resolver  *Resolver
	guard     *WriteGuard
	lane      *WriteLane
	ledger    *Ledger
	worker    *IndexWorker
	retrieval *Retrieval
	index     config.Index
	log       *slog.Logger
}

func NewMemories(store *sqlite.Store, resolver *Resolver, g *WriteGuard, lane *WriteLane, ledger *Ledger, worker *IndexWorker, retrieval *Retrieval, index config.Index, log *slog.Logger) *Memories {
	return &Memories{
		store:     store,
		resolver:  resolver,
		guard:     g,
		lane:      lane,
		ledger:    ledger,
		worker:    worker,
		retrieval: retrieval,
		index:     index,
		log:       log,
	}
}

// GuardReport is the guard verdict as surfaced to clients.
type GuardReport struct {
	Action     string  `json:"action"`
	Method     string  `json:"method"`
	Reason     string  `json:"reason"`
	TargetURI  string  `json:"target_uri,omitempty"`
	Confidence float64 `json:"confidence"`
}

func reportVerdict(v guard.Verdict) GuardReport {
	return GuardReport{
		Action:     string(v.Action),
		Method:     string(v.Method),
		Reason:     v.Reason,
		TargetURI:  v.TargetURI,
		Confidence: v.Confidence,
	}
}

// CreateOutcome is the create_memory response.
type CreateOutcome struct {
	Created        bool                  `json:"created"`
	URI            string                `json:"uri,omitempty"`
	MemoryID       string                `json:"memory_id,omitempty"`
	Message        string                `json:"message,omitempty"`
	Guard          GuardReport           `json:"guard"`
	Enqueue        indexjob.EnqueueStats `json:"enqueue"`
	DegradeReasons []string              `json:"degrade_reasons,omitempty"`
	Degraded       bool                  `json:"degraded"`
}

// Create runs the guarded create path. A NOOP verdict blocks the write; an
// UPDATE verdict redirects the content onto the duplicate target. Both are
// reported as created=false with HTTP-level success.
func (m *Memories) Create(ctx context.Context, sessionID string, req memory.CreateRequest) (*CreateOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	parent, err := m.resolver.Parse(req.ParentAddress)
	if err != nil {
		return nil, err
	}

	verdict, degrade := m.guard.Decide(ctx, req.Content, false)
	out := &CreateOutcome{Guard: reportVerdict(verdict), DegradeReasons: degrade}

	switch verdict.Action {
	case guard.ActionNoop:
		out.Message = "guard: duplicate content, nothing written"
		out.URI = verdict.TargetURI
		out.MemoryID = verdict.TargetID
		out.Degraded = len(out.DegradeReasons) > 0
		return out, nil

	case guard.ActionUpdate:
		res, err := m.redirectCreate(ctx, sessionID, verdict, req.Content)
		if err != nil {
			return nil, err
		}
		out.Message = "guard: superseded existing memory instead of creating"
		out.URI = verdict.TargetURI
		out.MemoryID = res.Memory.ID
		out.Enqueue = m.enqueueReindex(ctx, res.Memory.ID, "guard_update", &out.DegradeReasons)
		out.Degraded = len(out.DegradeReasons) > 0
		return out, nil
	}

	// ADD: the new record's identity is its target address.
	recordKey := parent.String()
	if req.Title != "" {
		recordKey = parent.Child(req.Title).String()
	}
	release, err := m.lane.Acquire(ctx, recordKey)
	if err != nil {
		return nil, err
	}
	defer release()

	if req.Title != "" {
		addr := parent.Child(req.Title)
		if err := m.ledger.Capture(ctx, sessionID, snapshot.OpCreate, snapshot.ResourcePath, addr.String(), nil, nil); err != nil {
			return nil, err
		}
		res, err := m.store.Create(ctx, parent, req.Content, req.Priority, req.Title, req.Disclosure)
		if err != nil {
			m.ledger.Discard(ctx, sessionID, addr.String())
			return nil, err
		}
		m.finishCreate(ctx, sessionID, out, res)
		return out, nil
	}

	// Untitled creates learn their address from the store; snapshot after
	// the title is assigned would break capture-before-mutate, so the
	// create runs first and a failed capture rolls the path back out.
	res, err := m.store.Create(ctx, parent, req.Content, req.Priority, "", req.Disclosure)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.Capture(ctx, sessionID, snapshot.OpCreate, snapshot.ResourcePath, res.Address.String(), nil, nil); err != nil {
		m.log.Error("post-create snapshot failed", "address", res.Address.String(), "error", err)
	}
	m.finishCreate(ctx, sessionID, out, res)
	return out, nil
}

func (m *Memories) finishCreate(ctx context.Context, sessionID string, out *CreateOutcome, res *sqlite.CreateResult) {
	out.Created = true
	out.URI = res.Address.String()
	out.MemoryID = res.Memory.ID
	out.Enqueue = m.enqueueReindex(ctx, res.Memory.ID, "create", &out.DegradeReasons)
	out.Degraded = len(out.DegradeReasons) > 0
	if m.retrieval != nil {
		m.retrieval.NoteAccess(sessionID, res.Memory.ID)
	}
}

// redirectCreate applies an UPDATE verdict: the proposed content replaces
// the duplicate target under the usual snapshot discipline.
func (m *Memories) redirectCreate(ctx context.Context, sessionID string, v guard.Verdict, content string) (*sqlite.UpdateResult, error) {
	release, err := m.lane.Acquire(ctx, v.TargetID)
	if err != nil {
		return nil, err
	}
	defer release()

	mem, paths, err := m.loadForSnapshot(ctx, v.TargetID)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.Capture(ctx, sessionID, snapshot.OpModifyContent, snapshot.ResourceMemory, v.TargetID, mem, paths); err != nil {
		return nil, err
	}
	res, err := m.store.ReplaceContent(ctx, v.TargetID, content)
	if err != nil {
		// Mutate failed after capture; the snapshot stays for review.
		return nil, err
	}
	return res, nil
}

// UpdateOutcome is the update_memory response.
type UpdateOutcome struct {
	Updated        bool                  `json:"updated"`
	URI            string                `json:"uri"`
	MemoryID       string                `json:"memory_id,omitempty"`
	Message        string                `json:"message,omitempty"`
	Guard          GuardReport           `json:"guard"`
	Enqueue        indexjob.EnqueueStats `json:"enqueue"`
	DegradeReasons []string              `json:"degrade_reasons,omitempty"`
	Degraded       bool                  `json:"degraded"`
}

// Update applies one of the three update shapes. Meta-only changes bypass
// the guard; content changes run the ladder, except that a verdict aimed
// at the memory being updated never blocks its own update.
func (m *Memories) Update(ctx context.Context, sessionID string, req memory.UpdateRequest) (*UpdateOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	addr, err := m.resolver.Parse(req.Address)
	if err != nil {
		return nil, err
	}
	cur, paths, err := m.store.GetByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}

	metaOnly := req.IsMetaOnly()
	proposal := prospectiveContent(cur.Content, req)
	verdict, degrade := m.guard.Decide(ctx, proposal, metaOnly)
	out := &UpdateOutcome{URI: addr.String(), Guard: reportVerdict(verdict), DegradeReasons: degrade}

	if verdict.Action == guard.ActionNoop && verdict.TargetID != cur.ID {
		out.Message = "guard: identical content exists elsewhere, nothing written"
		out.Degraded = len(out.DegradeReasons) > 0
		return out, nil
	}
	if verdict.Action == guard.ActionNoop && proposal == cur.Content {
		out.Message = "guard: content unchanged"
		out.MemoryID = cur.ID
		out.Degraded = len(out.DegradeReasons) > 0
		return out, nil
	}

	release, err := m.lane.Acquire(ctx, cur.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	op := snapshot.OpModifyContent
	if metaOnly {
		op = snapshot.OpModifyMeta
	}
	if err := m.ledger.Capture(ctx, sessionID, op, snapshot.ResourceMemory, cur.ID, cur, paths); err != nil {
		return nil, err
	}

	switch {
	case req.IsPatch():
		res, err := m.store.UpdatePatch(ctx, cur.ID, req.Old, req.New)
		if err != nil {
			return nil, err
		}
		out.MemoryID = res.Memory.ID
		out.Enqueue = m.enqueueReindex(ctx, res.Memory.ID, "update_patch", &out.DegradeReasons)
	case req.IsAppend():
		res, err := m.store.UpdateAppend(ctx, cur.ID, req.Append)
		if err != nil {
			return nil, err
		}
		out.MemoryID = res.Memory.ID
		out.Enqueue = m.enqueueReindex(ctx, res.Memory.ID, "update_append", &out.DegradeReasons)
	default:
		mem, err := m.store.UpdateMeta(ctx, cur.ID, req.Priority, req.Disclosure)
		if err != nil {
			return nil, err
		}
		out.MemoryID = mem.ID
	}

	out.Updated = true
	out.Degraded = len(out.DegradeReasons) > 0
	if m.retrieval != nil {
		m.retrieval.NoteAccess(sessionID, out.MemoryID)
	}
	return out, nil
}

// DeleteOutcome is the delete_memory response.
type DeleteOutcome struct {
	Deleted        bool     `json:"deleted"`
	MemoryID       string   `json:"memory_id"`
	SurvivingPaths []string `json:"surviving_paths"`
	Deprecated     bool     `json:"deprecated"`
}

// Delete removes one path. The memory itself is deprecated only when its
// last path goes away.
func (m *Memories) Delete(ctx context.Context, sessionID, rawAddr string) (*DeleteOutcome, error) {
	addr, err := m.resolver.Parse(rawAddr)
	if err != nil {
		return nil, err
	}
	cur, paths, err := m.store.GetByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}

	release, err := m.lane.Acquire(ctx, cur.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := m.ledger.Capture(ctx, sessionID, snapshot.OpDelete, snapshot.ResourceMemory, cur.ID, cur, paths); err != nil {
		return nil, err
	}
	res, err := m.store.DeletePath(ctx, addr)
	if err != nil {
		return nil, err
	}
	if res.Deprecated {
		if _, _, err := m.worker.Enqueue(ctx, indexjob.TaskReindexMemory, cur.ID, "delete"); err != nil {
			m.log.Warn("index cleanup enqueue failed", "memory_id", cur.ID, "error", err)
		}
	}
	return &DeleteOutcome{
		Deleted:        true,
		MemoryID:       res.MemoryID,
		SurvivingPaths: res.SurvivingPaths,
		Deprecated:     res.Deprecated,
	}, nil
}

// AliasOutcome is the add_alias response.
type AliasOutcome struct {
	CreatedAlias bool   `json:"created_alias"`
	MemoryID     string `json:"memory_id"`
	URI          string `json:"uri"`
}

// AddAlias maps a new address onto an existing memory. Aliases carry no
// content, so the guard ladder is bypassed.
func (m *Memories) AddAlias(ctx context.Context, sessionID, newRaw, targetRaw string, priority int, disclosure string) (*AliasOutcome, error) {
	newAddr, err := m.resolver.Parse(newRaw)
	if err != nil {
		return nil, err
	}
	targetAddr, err := m.resolver.Parse(targetRaw)
	if err != nil {
		return nil, err
	}

	release, err := m.lane.Acquire(ctx, newAddr.String())
	if err != nil {
		return nil, err
	}
	defer release()

	if err := m.ledger.Capture(ctx, sessionID, snapshot.OpCreateAlias, snapshot.ResourcePath, newAddr.String(), nil, nil); err != nil {
		return nil, err
	}
	id, err := m.store.AddAlias(ctx, newAddr, targetAddr, priority, disclosure)
	if err != nil {
		m.ledger.Discard(ctx, sessionID, newAddr.String())
		return nil, err
	}
	return &AliasOutcome{CreatedAlias: true, MemoryID: id, URI: newAddr.String()}, nil
}

// enqueueReindex pushes a reindex job for id, folding the outcome into the
// enqueue stats and degrade reasons. With defer_on_write disabled the
// reindex runs inline on the write path instead of through the queue.
func (m *Memories) enqueueReindex(ctx context.Context, id, reason string, degrade *[]string) indexjob.EnqueueStats {
	var stats indexjob.EnqueueStats
	if !m.index.Enabled || m.worker == nil {
		return stats
	}
	if !m.index.DeferOnWrite {
		reasons, err := m.worker.ReindexNow(ctx, id)
		*degrade = append(*degrade, reasons...)
		if err != nil {
			m.log.Warn("inline reindex failed", "memory_id", id, "error", err)
			*degrade = append(*degrade, "index_write_failed")
		}
		return stats
	}
	outcome, _, err := m.worker.Enqueue(ctx, indexjob.TaskReindexMemory, id, reason)
	stats.Record(outcome)
	if err != nil {
		*degrade = append(*degrade, "index_enqueue_dropped")
	}
	return stats
}

func (m *Memories) loadForSnapshot(ctx context.Context, memoryID string) (*memory.Memory, []memory.Path, error) {
	mem, err := m.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, nil, err
	}
	paths, err := m.store.PathsForMemory(ctx, memoryID)
	if err != nil {
		return nil, nil, err
	}
	return mem, paths, nil
}

// prospectiveContent computes what the memory's content would become.
func prospectiveContent(current string, req memory.UpdateRequest) string {
	switch {
	case req.IsPatch():
		return strings.Replace(current, req.Old, req.New, 1)
	case req.IsAppend():
		return current + req.Append
	default:
		return current
	}
}
