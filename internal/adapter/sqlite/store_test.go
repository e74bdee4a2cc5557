package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemolabs/palace/internal/chunker"
	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/address"
	"github.com/mnemolabs/palace/internal/domain/snapshot"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Path:                 filepath.Join(t.TempDir(), "palace.db"),
		MigrationLockTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addr(t *testing.T, raw string) address.Address {
	t.Helper()
	a, err := address.Parse(raw, []string{"core", "writer", "notes"})
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return a
}

func TestCreateAndGetByAddress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "core://agent"), "Prefer concise code", 1, "style", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Address.String() != "core://agent/style" {
		t.Errorf("address = %s", res.Address)
	}

	m, paths, err := s.GetByAddress(ctx, addr(t, "core://agent/style"))
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if m.Content != "Prefer concise code" {
		t.Errorf("content = %q", m.Content)
	}
	if len(paths) != 1 {
		t.Errorf("paths = %d, want 1", len(paths))
	}
	if m.ContentHash == "" || m.Deprecated {
		t.Errorf("unexpected memory state: %+v", m)
	}
}

func TestCreateRequiresParent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(context.Background(), addr(t, "core://missing/deep"), "x", 0, "leaf", "")
	if !errors.Is(err, domain.ErrParentNotFound) {
		t.Fatalf("err = %v, want parent_not_found", err)
	}
}

func TestCreateAssignsNumericTitle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, addr(t, "notes://r"), "root", 0, "", ""); err != nil {
		t.Fatalf("create root: %v", err)
	}
	res, err := s.Create(ctx, addr(t, "notes://r"), "second", 0, "", "")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if res.Address.String() != "notes://r/2" {
		t.Errorf("address = %s, want notes://r/2", res.Address)
	}
}

func TestCreateRejectsDuplicatePath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, addr(t, "core://agent"), "a", 0, "style", ""); err != nil {
		t.Fatal(err)
	}
	_, err := s.Create(ctx, addr(t, "core://agent"), "b", 0, "style", "")
	if !errors.Is(err, domain.ErrPathExists) {
		t.Fatalf("err = %v, want path_exists", err)
	}
}

func TestUpdatePatchUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://r"), "α β α", 0, "1", "")
	if err != nil {
		t.Fatal(err)
	}
	id := res.Memory.ID

	if _, err := s.UpdatePatch(ctx, id, "α", "γ"); !errors.Is(err, domain.ErrPatchAmbiguous) {
		t.Errorf("duplicate old err = %v, want patch_ambiguous", err)
	}
	if _, err := s.UpdatePatch(ctx, id, "δ", "γ"); !errors.Is(err, domain.ErrPatchNotFound) {
		t.Errorf("missing old err = %v, want patch_not_found", err)
	}

	upd, err := s.UpdatePatch(ctx, id, "β", "γ")
	if err != nil {
		t.Fatalf("valid patch: %v", err)
	}
	if upd.Memory.Content != "α γ α" {
		t.Errorf("content = %q", upd.Memory.Content)
	}
}

func TestUpdateCreatesSuccessorAndRepointsPaths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "core://rules"), "A", 0, "main", "")
	if err != nil {
		t.Fatal(err)
	}
	oldID := res.Memory.ID
	if _, err := s.AddAlias(ctx, addr(t, "writer://rules-alias"), res.Address, 0, ""); err != nil {
		t.Fatalf("alias: %v", err)
	}

	upd, err := s.UpdateAppend(ctx, oldID, "B")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if upd.Memory.ID == oldID {
		t.Fatal("content update must create a new record")
	}

	old, err := s.GetMemory(ctx, oldID)
	if err != nil {
		t.Fatal(err)
	}
	if !old.Deprecated || old.MigratedTo != upd.Memory.ID {
		t.Errorf("old record = %+v, want deprecated with migrated_to", old)
	}

	// Both the canonical path and the alias must follow the successor.
	for _, raw := range []string{"core://rules/main", "writer://rules-alias"} {
		id, err := s.ResolveAddress(ctx, addr(t, raw))
		if err != nil {
			t.Fatalf("resolve %s: %v", raw, err)
		}
		if id != upd.Memory.ID {
			t.Errorf("%s resolves to %s, want successor %s", raw, id, upd.Memory.ID)
		}
	}
}

func TestUpdateMetaInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "core://cfg"), "x", 5, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	p := 2
	m, err := s.UpdateMeta(ctx, res.Memory.ID, &p, nil)
	if err != nil {
		t.Fatalf("UpdateMeta: %v", err)
	}
	if m.ID != res.Memory.ID {
		t.Error("meta update must not create a successor")
	}
	if m.Priority != 2 {
		t.Errorf("priority = %d", m.Priority)
	}
}

func TestDeleteLastPathDeprecates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://tmp"), "x", 0, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	del, err := s.DeletePath(ctx, res.Address)
	if err != nil {
		t.Fatalf("DeletePath: %v", err)
	}
	if !del.Deprecated || len(del.SurvivingPaths) != 0 {
		t.Errorf("delete result = %+v", del)
	}
	m, err := s.GetMemory(ctx, res.Memory.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Deprecated {
		t.Error("memory must be deprecated after last path removal")
	}
}

func TestDeleteWithSurvivingAlias(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://tmp"), "x", 0, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddAlias(ctx, addr(t, "notes://tmp-alias"), res.Address, 0, ""); err != nil {
		t.Fatal(err)
	}

	del, err := s.DeletePath(ctx, res.Address)
	if err != nil {
		t.Fatal(err)
	}
	if del.Deprecated {
		t.Error("memory with surviving alias must not be deprecated")
	}
	if len(del.SurvivingPaths) != 1 || del.SurvivingPaths[0] != "notes://tmp-alias" {
		t.Errorf("surviving = %v", del.SurvivingPaths)
	}

	m, err := s.GetMemory(ctx, res.Memory.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Deprecated {
		t.Error("memory still readable via alias must stay live")
	}
}

func TestKeywordSearchAfterReindex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://k"), "the deploy pipeline failed on friday", 0, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReindexChunks(ctx, res.Memory.ID, chunker.DefaultOptions()); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	hits, err := s.SearchKeyword(ctx, "deploy pipeline", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].MemoryID != res.Memory.ID {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score <= 0 || hits[0].Score > 1 {
		t.Errorf("score = %v, want (0,1]", hits[0].Score)
	}
}

func TestReindexIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://k"), "some indexable content here", 0, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReindexChunks(ctx, res.Memory.ID, chunker.DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	n1, _ := s.CountChunks(ctx, res.Memory.ID)
	if err := s.ReindexChunks(ctx, res.Memory.ID, chunker.DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	n2, _ := s.CountChunks(ctx, res.Memory.ID)
	if n1 != n2 || n1 == 0 {
		t.Errorf("chunk counts = %d, %d; reindex must be idempotent", n1, n2)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://v"), "vector target", 0, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	vec := []float32{0.6, 0.8, 0}
	if err := s.UpsertVector(ctx, res.Memory.ID, "hash-v1", vec); err != nil {
		t.Fatalf("upsert vector: %v", err)
	}

	hits, err := s.SearchVector(ctx, vec, 5)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 1 || hits[0].MemoryID != res.Memory.ID {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Cosine < 0.999 {
		t.Errorf("cosine = %v, want ~1", hits[0].Cosine)
	}
}

func TestSnapshotFirstWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := snapshot.Snapshot{
		SessionID:     "s1",
		ResourceID:    "m1",
		ResourceType:  snapshot.ResourceMemory,
		OperationType: snapshot.OpModifyContent,
		SnapshotTime:  time.Now(),
		PreState:      []byte("A"),
	}
	if err := s.PutSnapshot(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := first
	second.PreState = []byte("B")
	if err := s.PutSnapshot(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSnapshot(ctx, "s1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.PreState) != "A" {
		t.Errorf("pre_state = %q, want first write preserved", got.PreState)
	}

	removed, err := s.DeleteSnapshot(ctx, "s1", "m1")
	if err != nil || !removed {
		t.Fatalf("delete = %v, %v", removed, err)
	}
	if _, err := s.GetSnapshot(ctx, "s1", "m1"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("err = %v, want snapshot_not_found", err)
	}
}

func TestDecayIdempotentPerDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, addr(t, "notes://d"), "x", 0, "a", ""); err != nil {
		t.Fatal(err)
	}
	n1, err := s.DecayTick(ctx, 14, 0.05)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if n1 == 0 {
		t.Fatal("first tick of the day must decay")
	}
	n2, err := s.DecayTick(ctx, 14, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 0 {
		t.Errorf("second tick same day decayed %d, want 0", n2)
	}
}

func TestReinforceCapsAtMax(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://r"), "x", 0, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if err := s.Reinforce(ctx, res.Memory.ID, 0.6, 5.0); err != nil {
			t.Fatal(err)
		}
	}
	m, err := s.GetMemory(ctx, res.Memory.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.VitalityScore > 5.0 {
		t.Errorf("vitality = %v, want <= 5.0", m.VitalityScore)
	}
	if m.AccessCount != 50 {
		t.Errorf("access_count = %d, want 50", m.AccessCount)
	}
}

func TestListVectorsReturnsStoredEmbeddings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://lv"), "vector listing", 0, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	vec := []float32{0.36, 0.48, 0.8}
	if err := s.UpsertVector(ctx, res.Memory.ID, "hash-v1", vec); err != nil {
		t.Fatalf("upsert vector: %v", err)
	}

	got, err := s.ListVectors(ctx)
	if err != nil {
		t.Fatalf("ListVectors: %v", err)
	}
	stored, ok := got[res.Memory.ID]
	if !ok {
		t.Fatalf("vectors = %v, missing %s", got, res.Memory.ID)
	}
	if len(stored) != 3 || stored[0] != 0.36 {
		t.Errorf("stored = %v", stored)
	}
}

func TestListDomainRootsFromNestedPaths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Content only exists under nested paths; the root itself has no row.
	if _, err := s.Create(ctx, addr(t, "core://rules"), "no secrets in commits", 0, "secrets", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, addr(t, "core://rules"), "prefer small diffs", 0, "diffs", ""); err != nil {
		t.Fatal(err)
	}

	roots, err := s.ListDomainRoots(ctx, "core")
	if err != nil {
		t.Fatalf("ListDomainRoots: %v", err)
	}
	if len(roots) != 1 || roots[0].Path != "rules" {
		t.Fatalf("roots = %+v, want single rules root", roots)
	}
	if roots[0].Address().String() != "core://rules" {
		t.Errorf("address = %s", roots[0].Address())
	}
}

func TestReinforceFirstAccessAppliesFullDelta(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Create(ctx, addr(t, "notes://boost"), "x", 0, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	before, err := s.GetMemory(ctx, res.Memory.ID)
	if err != nil {
		t.Fatal(err)
	}

	// access_count is zero, so the shrink factor 1+ln(1+0) is exactly 1.
	if err := s.Reinforce(ctx, res.Memory.ID, 0.6, 100); err != nil {
		t.Fatal(err)
	}
	after, err := s.GetMemory(ctx, res.Memory.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := after.VitalityScore - before.VitalityScore; diff < 0.599 || diff > 0.601 {
		t.Errorf("boost = %v, want 0.6", diff)
	}
}
