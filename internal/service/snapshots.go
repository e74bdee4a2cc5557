package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/address"
	"github.com/mnemolabs/palace/internal/domain/memory"
	"github.com/mnemolabs/palace/internal/domain/snapshot"
)

// Ledger records pre-mutation state per (session, resource) and serves
// diff, rollback, approve and clear. Snapshots are first-write-wins within
// a session: the earliest captured pre-state is the one a review sees.
type Ledger struct {
	store *sqlite.Store
	lane  *WriteLane
	log   *slog.Logger

	// reindex, when set, is called after a rollback restores content.
	reindex func(ctx context.Context, memoryID, reason string)
}

func NewLedger(store *sqlite.Store, lane *WriteLane, log *slog.Logger) *Ledger {
	return &Ledger{store: store, lane: lane, log: log}
}

// SetReindexHook installs the index worker callback used after rollbacks.
func (l *Ledger) SetReindexHook(fn func(ctx context.Context, memoryID, reason string)) {
	l.reindex = fn
}

// resourceState is the canonical pre/current state encoding. Existed=false
// marks absence, the pre-state of a create.
type resourceState struct {
	Existed    bool         `json:"existed"`
	Content    string       `json:"content,omitempty"`
	Priority   int          `json:"priority,omitempty"`
	Disclosure string       `json:"disclosure,omitempty"`
	Vitality   float64      `json:"vitality,omitempty"`
	Deprecated bool         `json:"deprecated,omitempty"`
	Paths      []pathRecord `json:"paths,omitempty"`
}

type pathRecord struct {
	Domain     string `json:"domain"`
	Path       string `json:"path"`
	Priority   int    `json:"priority"`
	Disclosure string `json:"disclosure,omitempty"`
}

func encodeState(mem *memory.Memory, paths []memory.Path) ([]byte, error) {
	st := resourceState{}
	if mem != nil {
		st.Existed = true
		st.Content = mem.Content
		st.Priority = mem.Priority
		st.Disclosure = mem.Disclosure
		st.Vitality = mem.VitalityScore
		st.Deprecated = mem.Deprecated
		for _, p := range paths {
			st.Paths = append(st.Paths, pathRecord{
				Domain: p.Domain, Path: p.Path, Priority: p.Priority, Disclosure: p.Disclosure,
			})
		}
	}
	return json.Marshal(st)
}

// Capture records the pre-state of resourceID before a mutation. Passing a
// nil mem records absence. An existing pending snapshot for the same key is
// left in place.
func (l *Ledger) Capture(ctx context.Context, sessionID string, op snapshot.OperationType, rtype snapshot.ResourceType, resourceID string, mem *memory.Memory, paths []memory.Path) error {
	pre, err := encodeState(mem, paths)
	if err != nil {
		return fmt.Errorf("encode pre-state %s: %w", resourceID, err)
	}
	return l.store.PutSnapshot(ctx, snapshot.Snapshot{
		SessionID:     sessionID,
		ResourceID:    resourceID,
		ResourceType:  rtype,
		OperationType: op,
		PreState:      pre,
	})
}

// Discard removes a snapshot captured for a mutation that never ran.
func (l *Ledger) Discard(ctx context.Context, sessionID, resourceID string) {
	if _, err := l.store.DeleteSnapshot(ctx, sessionID, resourceID); err != nil {
		l.log.Warn("discard snapshot failed", "session", sessionID, "resource", resourceID, "error", err)
	}
}

// List returns all pending snapshots for a session in capture order.
func (l *Ledger) List(ctx context.Context, sessionID string) ([]snapshot.Snapshot, error) {
	return l.store.ListSnapshots(ctx, sessionID)
}

// Diff compares a snapshot's pre-state against the current store state.
func (l *Ledger) Diff(ctx context.Context, sessionID, resourceID string) (*snapshot.Diff, error) {
	snap, err := l.get(ctx, sessionID, resourceID)
	if err != nil {
		return nil, err
	}
	cur, err := l.currentState(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return &snapshot.Diff{
		ResourceID:   resourceID,
		PreState:     string(snap.PreState),
		CurrentState: string(cur),
		Changed:      !bytes.Equal(snap.PreState, cur),
	}, nil
}

// Approve removes the snapshot, accepting the mutation as-is.
func (l *Ledger) Approve(ctx context.Context, sessionID, resourceID string) error {
	if _, err := l.get(ctx, sessionID, resourceID); err != nil {
		return err
	}
	_, err := l.store.DeleteSnapshot(ctx, sessionID, resourceID)
	return err
}

// Clear removes every snapshot in the session and returns how many.
func (l *Ledger) Clear(ctx context.Context, sessionID string) (int, error) {
	return l.store.ClearSnapshots(ctx, sessionID)
}

// Rollback restores the pre-state into the store and removes the snapshot.
// It is itself a write and goes through the lane.
func (l *Ledger) Rollback(ctx context.Context, sessionID, resourceID string) error {
	snap, err := l.get(ctx, sessionID, resourceID)
	if err != nil {
		return err
	}

	release, err := l.lane.Acquire(ctx, resourceID)
	if err != nil {
		return err
	}
	defer release()

	var pre resourceState
	if err := json.Unmarshal(snap.PreState, &pre); err != nil {
		return fmt.Errorf("decode pre-state %s: %w", resourceID, err)
	}

	if !pre.Existed {
		if err := l.restoreAbsence(ctx, snap); err != nil {
			return err
		}
	} else if err := l.restoreState(ctx, resourceID, pre); err != nil {
		return err
	}

	_, err = l.store.DeleteSnapshot(ctx, sessionID, resourceID)
	return err
}

// restoreAbsence undoes a create by removing the paths it introduced.
func (l *Ledger) restoreAbsence(ctx context.Context, snap *snapshot.Snapshot) error {
	if snap.ResourceType == snapshot.ResourcePath {
		addr, err := pathResourceAddress(snap.ResourceID)
		if err != nil {
			return err
		}
		_, err = l.store.DeletePath(ctx, addr)
		return err
	}

	paths, err := l.store.PathsForMemory(ctx, snap.ResourceID)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := l.store.DeletePath(ctx, p.Address()); err != nil {
			return err
		}
	}
	return nil
}

// restoreState reinstates content, metadata and paths from the pre-state.
// Content restoration follows the version-chain rule, so the live record
// may end up under a successor id with all paths repointed.
func (l *Ledger) restoreState(ctx context.Context, resourceID string, pre resourceState) error {
	cur, err := l.store.GetMemory(ctx, resourceID)
	if err != nil {
		return err
	}
	targetID := resourceID
	if cur.MigratedTo != "" {
		targetID = cur.MigratedTo
		if cur, err = l.store.GetMemory(ctx, targetID); err != nil {
			return err
		}
	}

	if cur.Content != pre.Content {
		res, err := l.store.ReplaceContent(ctx, targetID, pre.Content)
		if err != nil {
			return err
		}
		targetID = res.Memory.ID
		if l.reindex != nil {
			l.reindex(ctx, targetID, "rollback")
		}
	}

	prio, disc := pre.Priority, pre.Disclosure
	if _, err := l.store.UpdateMeta(ctx, targetID, &prio, &disc); err != nil {
		return err
	}
	if err := l.store.SetVitality(ctx, targetID, pre.Vitality); err != nil {
		return err
	}

	for _, p := range pre.Paths {
		err := l.store.RestorePath(ctx, memory.Path{
			Domain: p.Domain, Path: p.Path, MemoryID: targetID,
			Priority: p.Priority, Disclosure: p.Disclosure,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// currentState renders the live state of resourceID in the snapshot encoding.
func (l *Ledger) currentState(ctx context.Context, resourceID string) ([]byte, error) {
	mem, err := l.store.GetMemory(ctx, resourceID)
	if err != nil {
		if errors.Is(err, domain.ErrAddressNotFound) {
			return encodeState(nil, nil)
		}
		return nil, err
	}
	if mem.MigratedTo != "" {
		if succ, err := l.store.GetMemory(ctx, mem.MigratedTo); err == nil {
			mem = succ
		}
	}
	paths, err := l.store.PathsForMemory(ctx, mem.ID)
	if err != nil {
		return nil, err
	}
	return encodeState(mem, paths)
}

// get loads a snapshot, mapping absence to the review error the control
// plane reports.
func (l *Ledger) get(ctx context.Context, sessionID, resourceID string) (*snapshot.Snapshot, error) {
	snap, err := l.store.GetSnapshot(ctx, sessionID, resourceID)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return nil, domain.ErrReviewNotFound
	}
	return snap, err
}

// pathResourceAddress parses a path-typed resource id, stored in canonical
// domain://path form.
func pathResourceAddress(resourceID string) (address.Address, error) {
	dom, rest, ok := strings.Cut(resourceID, "://")
	if !ok || dom == "" || rest == "" {
		return address.Address{}, fmt.Errorf("path resource %q: %w", resourceID, domain.ErrInvalidPath)
	}
	return address.Address{Domain: dom, Path: rest}, nil
}
