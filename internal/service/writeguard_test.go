package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mnemolabs/palace/internal/adapter/hashembed"
	"github.com/mnemolabs/palace/internal/chunker"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain/guard"
	"github.com/mnemolabs/palace/internal/port/embedding"
)

// failingEmbedder simulates a remote embedding outage.
type failingEmbedder struct{}

func (failingEmbedder) Name() string { return "failing" }
func (failingEmbedder) Dim() int     { return 8 }
func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}
func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

var _ embedding.Embedder = failingEmbedder{}

func seedMemory(t *testing.T, s *services, parent, title, content string) string {
	t.Helper()
	res, err := s.store.Create(context.Background(), mustAddr(t, parent), content, 1, title, "")
	if err != nil {
		t.Fatalf("seed %s: %v", title, err)
	}
	if err := s.store.ReindexChunks(context.Background(), res.Memory.ID, chunker.DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	emb := hashembed.New(64)
	vec, _ := emb.Embed(context.Background(), content)
	if err := s.store.UpsertVector(context.Background(), res.Memory.ID, "hash-v1", vec); err != nil {
		t.Fatal(err)
	}
	return res.Memory.ID
}

func TestGuardBypassOnMetaOnly(t *testing.T) {
	s := newServices(t)
	v, degrade := s.guard.Decide(context.Background(), "anything", true)
	if v.Action != guard.ActionBypass || v.Method != guard.MethodBypass {
		t.Fatalf("verdict = %+v, want bypass", v)
	}
	if len(degrade) != 0 {
		t.Fatalf("degrade = %v, want none", degrade)
	}
}

func TestGuardSemanticNoopOnIdenticalContent(t *testing.T) {
	s := newServices(t)
	id := seedMemory(t, s, "core://rules", "style", "always use tabs for indentation in Go files")

	v, _ := s.guard.Decide(context.Background(), "always use tabs for indentation in Go files", false)
	if v.Action != guard.ActionNoop {
		t.Fatalf("action = %s, want NOOP", v.Action)
	}
	if v.Method != guard.MethodEmbedding {
		t.Fatalf("method = %s, want embedding", v.Method)
	}
	if v.TargetID != id {
		t.Fatalf("target = %s, want %s", v.TargetID, id)
	}
	if v.TargetURI != "core://rules/style" {
		t.Fatalf("target uri = %s", v.TargetURI)
	}
}

func TestGuardKeywordUpdateOnSupersedingContent(t *testing.T) {
	s := newServices(t)
	cfg := config.Defaults().Guard
	// No embedder: the ladder falls through to the keyword rung.
	g := NewWriteGuard(s.store, nil, nil, cfg, testLogger())

	id := seedMemory(t, s, "core://rules", "deploy", "deploy alpha beta gamma delta")

	// 5 shared tokens of 8 total: jaccard 0.625, between the update and
	// noop thresholds, and the proposal is long enough to supersede.
	proposal := "deploy alpha beta gamma delta epsilon zeta eta"
	v, _ := g.Decide(context.Background(), proposal, false)
	if v.Action != guard.ActionUpdate {
		t.Fatalf("action = %s (reason %q), want UPDATE", v.Action, v.Reason)
	}
	if v.Method != guard.MethodKeyword {
		t.Fatalf("method = %s, want keyword", v.Method)
	}
	if v.TargetID != id {
		t.Fatalf("target = %s, want %s", v.TargetID, id)
	}
}

func TestGuardDefaultsToAddOnEmptyStore(t *testing.T) {
	s := newServices(t)
	v, degrade := s.guard.Decide(context.Background(), "completely new content", false)
	if v.Action != guard.ActionAdd {
		t.Fatalf("action = %s, want ADD", v.Action)
	}
	if len(degrade) != 0 {
		t.Fatalf("degrade = %v, want none", degrade)
	}
}

func TestGuardDegradesOnEmbedderFailure(t *testing.T) {
	s := newServices(t)
	g := NewWriteGuard(s.store, failingEmbedder{}, nil, config.Defaults().Guard, testLogger())

	v, degrade := g.Decide(context.Background(), "some content", false)
	if v.Action != guard.ActionAdd {
		t.Fatalf("action = %s, want ADD", v.Action)
	}
	found := false
	for _, d := range degrade {
		if d == "embedding_request_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("degrade = %v, want embedding_request_failed", degrade)
	}
	// The keyword rung still completed, so the verdict is not a fallback.
	if v.Method != guard.MethodKeyword {
		t.Fatalf("method = %s, want keyword", v.Method)
	}
}
