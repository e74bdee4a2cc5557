package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/memory"
)

func TestCreateHappyPath(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	out, err := s.memories.Create(ctx, "sess-1", memory.CreateRequest{
		ParentAddress: "core://rules",
		Content:       "never commit secrets to the repository",
		Priority:      1,
		Title:         "secrets",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Created {
		t.Fatalf("created = false, message %q", out.Message)
	}
	if out.URI != "core://rules/secrets" {
		t.Fatalf("uri = %s", out.URI)
	}
	if out.Guard.Action != "ADD" {
		t.Fatalf("guard action = %s", out.Guard.Action)
	}
	if out.Enqueue.Queued != 1 {
		t.Fatalf("enqueue stats = %+v, want one queued", out.Enqueue)
	}

	// The create left a pre-state snapshot keyed by the new path.
	snaps, err := s.ledger.List(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].ResourceID != "core://rules/secrets" {
		t.Fatalf("snapshots = %+v", snaps)
	}
}

func TestCreateDuplicateBlockedByGuard(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	content := "the staging database lives on host stg-db-2"
	first, err := s.memories.Create(ctx, "sess-1", memory.CreateRequest{
		ParentAddress: "core://infra", Content: content, Title: "staging-db",
	})
	if err != nil {
		t.Fatal(err)
	}
	s.drain(t) // index the first write so the guard can see it

	second, err := s.memories.Create(ctx, "sess-1", memory.CreateRequest{
		ParentAddress: "notes://scratch", Content: content, Title: "dup",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Created {
		t.Fatal("duplicate create succeeded, want guard NOOP")
	}
	if second.Guard.Action != "NOOP" {
		t.Fatalf("guard action = %s, want NOOP", second.Guard.Action)
	}
	if second.URI != first.URI {
		t.Fatalf("noop target = %s, want %s", second.URI, first.URI)
	}
}

func TestUpdatePatchAmbiguous(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	if _, err := s.memories.Create(ctx, "sess-1", memory.CreateRequest{
		ParentAddress: "notes://r", Content: "α β α", Title: "1",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := s.memories.Update(ctx, "sess-1", memory.UpdateRequest{
		Address: "notes://r/1", Old: "α", New: "γ",
	})
	if !errors.Is(err, domain.ErrPatchAmbiguous) {
		t.Fatalf("err = %v, want patch_ambiguous", err)
	}
}

func TestUpdateAppendCreatesSuccessor(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	created, err := s.memories.Create(ctx, "sess-1", memory.CreateRequest{
		ParentAddress: "core://log", Content: "day one.", Title: "journal",
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := s.memories.Update(ctx, "sess-2", memory.UpdateRequest{
		Address: "core://log/journal", Append: " day two.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Updated {
		t.Fatalf("updated = false, message %q", out.Message)
	}
	if out.MemoryID == created.MemoryID {
		t.Fatal("append reused the memory id, want a successor record")
	}

	got, err := s.resolver.Read(ctx, "core://log/journal", ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "day one. day two." {
		t.Fatalf("content = %q", got.Content)
	}
}

func TestUpdateMetaOnlyBypassesGuard(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	if _, err := s.memories.Create(ctx, "sess-1", memory.CreateRequest{
		ParentAddress: "core://cfg", Content: "x", Title: "flag",
	}); err != nil {
		t.Fatal(err)
	}

	prio := 7
	out, err := s.memories.Update(ctx, "sess-1", memory.UpdateRequest{
		Address: "core://cfg/flag", Priority: &prio,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Guard.Action != "BYPASS" {
		t.Fatalf("guard action = %s, want BYPASS", out.Guard.Action)
	}
	if !out.Updated {
		t.Fatal("meta update did not apply")
	}
}

func TestDeleteLastPathDeprecates(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	created, err := s.memories.Create(ctx, "sess-1", memory.CreateRequest{
		ParentAddress: "notes://tmp", Content: "scratch", Title: "x",
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := s.memories.Delete(ctx, "sess-1", "notes://tmp/x")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Deleted || !out.Deprecated || len(out.SurvivingPaths) != 0 {
		t.Fatalf("outcome = %+v", out)
	}

	mem, err := s.store.GetMemory(ctx, created.MemoryID)
	if err != nil {
		t.Fatal(err)
	}
	if !mem.Deprecated {
		t.Fatal("memory not deprecated after last path removal")
	}
}

func TestAliasSurvivesDelete(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	created, err := s.memories.Create(ctx, "sess-1", memory.CreateRequest{
		ParentAddress: "core://rules", Content: "rule body", Title: "main",
	})
	if err != nil {
		t.Fatal(err)
	}
	alias, err := s.memories.AddAlias(ctx, "sess-1", "writer://shortcuts/rule", "core://rules/main", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if alias.MemoryID != created.MemoryID {
		t.Fatalf("alias memory = %s, want %s", alias.MemoryID, created.MemoryID)
	}

	out, err := s.memories.Delete(ctx, "sess-1", "core://rules/main")
	if err != nil {
		t.Fatal(err)
	}
	if out.Deprecated {
		t.Fatal("memory deprecated while an alias still points at it")
	}
	if len(out.SurvivingPaths) != 1 || out.SurvivingPaths[0] != "writer://shortcuts/rule" {
		t.Fatalf("surviving = %v", out.SurvivingPaths)
	}
}

func TestRollbackRoundTrip(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	if _, err := s.memories.Create(ctx, "boot", memory.CreateRequest{
		ParentAddress: "core://rules", Content: "A", Title: "main",
	}); err != nil {
		t.Fatal(err)
	}

	created, err := s.resolver.Read(ctx, "core://rules/main", ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}

	out, err := s.memories.Update(ctx, "sess-edit", memory.UpdateRequest{
		Address: "core://rules/main", Old: "A", New: "B",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Updated {
		t.Fatal("update did not apply")
	}

	snaps, err := s.ledger.List(ctx, "sess-edit")
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	resourceID := snaps[0].ResourceID
	if resourceID != created.MemoryID {
		t.Fatalf("snapshot resource = %s, want %s", resourceID, created.MemoryID)
	}

	if err := s.ledger.Rollback(ctx, "sess-edit", resourceID); err != nil {
		t.Fatal(err)
	}

	got, err := s.resolver.Read(ctx, "core://rules/main", ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "A" {
		t.Fatalf("content after rollback = %q, want A", got.Content)
	}

	if _, err := s.ledger.Diff(ctx, "sess-edit", resourceID); !errors.Is(err, domain.ErrReviewNotFound) {
		t.Fatalf("diff err = %v, want review_not_found", err)
	}
}

func TestRollbackOfCreateRemovesPath(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	if _, err := s.memories.Create(ctx, "sess-c", memory.CreateRequest{
		ParentAddress: "notes://draft", Content: "temp", Title: "t1",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.ledger.Rollback(ctx, "sess-c", "notes://draft/t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.resolver.Read(ctx, "notes://draft/t1", ReadOptions{}); !errors.Is(err, domain.ErrAddressNotFound) {
		t.Fatalf("err = %v, want address_not_found", err)
	}
}

func TestCreateIndexesInlineWhenDeferDisabled(t *testing.T) {
	s := newServicesCfg(t, func(cfg *config.Config) { cfg.Index.DeferOnWrite = false })
	ctx := context.Background()

	if _, err := s.memories.Create(ctx, "sess-inline", memory.CreateRequest{
		ParentAddress: "notes://runbooks",
		Content:       "restart the collector before rotating its credentials",
		Title:         "collector",
	}); err != nil {
		t.Fatal(err)
	}

	// No drain: the write path must have indexed the memory itself.
	if depth := s.worker.Overview().QueueDepth; depth != 0 {
		t.Fatalf("queue depth = %d, want 0", depth)
	}
	res, err := s.retrieval.Search(ctx, SearchRequest{Query: "rotating collector credentials", Mode: "keyword"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) == 0 || res.Results[0].Address != "notes://runbooks/collector" {
		t.Fatalf("results = %+v", res.Results)
	}
}
