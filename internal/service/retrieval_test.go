package service

import (
	"context"
	"testing"

	"github.com/mnemolabs/palace/internal/domain/memory"
)

func seedSearchable(t *testing.T, s *services) {
	t.Helper()
	ctx := context.Background()
	for _, m := range []struct{ parent, title, content string }{
		{"core://infra", "deploys", "deploys run through the blue-green pipeline every friday"},
		{"core://infra", "oncall", "the oncall rotation swaps every monday morning"},
		{"notes://cooking", "pasta", "fresh pasta needs only flour and eggs"},
	} {
		if _, err := s.memories.Create(ctx, "seed", memory.CreateRequest{
			ParentAddress: m.parent, Content: m.content, Title: m.title,
		}); err != nil {
			t.Fatal(err)
		}
	}
	s.drain(t)
}

func TestSearchKeywordFindsMatch(t *testing.T) {
	s := newServices(t)
	seedSearchable(t, s)

	res, err := s.retrieval.Search(context.Background(), SearchRequest{
		Query: "blue-green pipeline deploys", Mode: "keyword",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Results) == 0 {
		t.Fatalf("results = %+v", res)
	}
	if res.Results[0].Address != "core://infra/deploys" {
		t.Fatalf("top hit = %s", res.Results[0].Address)
	}
	if res.ModeApplied != "keyword" {
		t.Fatalf("mode_applied = %s", res.ModeApplied)
	}
	if res.Degraded {
		t.Fatalf("degraded with reasons %v", res.DegradeReasons)
	}
}

func TestSearchHybridUsesVectors(t *testing.T) {
	s := newServices(t)
	seedSearchable(t, s)

	res, err := s.retrieval.Search(context.Background(), SearchRequest{
		Query: "fresh pasta needs only flour and eggs", Mode: "hybrid",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModeApplied != "hybrid" {
		t.Fatalf("mode_applied = %s", res.ModeApplied)
	}
	if len(res.Results) == 0 {
		t.Fatal("no results")
	}
	if res.Results[0].Address != "notes://cooking/pasta" {
		t.Fatalf("top hit = %s", res.Results[0].Address)
	}
	if res.Results[0].VectorScore == 0 {
		t.Fatal("vector signal missing from hybrid hit")
	}
}

func TestSearchSemanticWithoutEmbedderDegrades(t *testing.T) {
	s := newServices(t)
	seedSearchable(t, s)

	bare := NewRetrieval(s.store, nil, nil, s.cfg.Retrieval, testLogger())
	res, err := bare.Search(context.Background(), SearchRequest{
		Query: "deploys pipeline", Mode: "semantic",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModeApplied != "keyword" {
		t.Fatalf("mode_applied = %s, want degraded keyword", res.ModeApplied)
	}
	if !res.Degraded {
		t.Fatal("degraded flag not set")
	}
}

func TestSearchDomainFilter(t *testing.T) {
	s := newServices(t)
	seedSearchable(t, s)

	res, err := s.retrieval.Search(context.Background(), SearchRequest{
		Query: "every monday friday pipeline pasta", Mode: "keyword", Domain: "notes",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, hit := range res.Results {
		if hit.Address[:8] != "notes://" {
			t.Fatalf("hit outside domain filter: %s", hit.Address)
		}
	}
}

func TestSearchIntentClassification(t *testing.T) {
	s := newServices(t)
	seedSearchable(t, s)

	res, err := s.retrieval.Search(context.Background(), SearchRequest{
		Query: "explain why the friday deploys failed because of the pipeline", Mode: "keyword",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Intent != "causal" {
		t.Fatalf("intent = %s, want causal", res.Intent)
	}
	if res.StrategyTemplate != "causal_wide_pool" {
		t.Fatalf("template = %s", res.StrategyTemplate)
	}
}

func TestSearchSessionSeeding(t *testing.T) {
	s := newServices(t)
	seedSearchable(t, s)

	// Note an unrelated memory as session-recent; it should surface tagged.
	pastaID := ""
	res, err := s.resolver.Read(context.Background(), "notes://cooking/pasta", ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	pastaID = res.MemoryID
	s.retrieval.NoteAccess("sess-9", pastaID)

	include := true
	out, err := s.retrieval.Search(context.Background(), SearchRequest{
		Query:          "oncall rotation",
		Mode:           "keyword",
		SessionID:      "sess-9",
		IncludeSession: &include,
	})
	if err != nil {
		t.Fatal(err)
	}
	foundSession := false
	for _, hit := range out.Results {
		if hit.MemoryID == pastaID && hit.Session {
			foundSession = true
		}
	}
	if !foundSession {
		t.Fatalf("session seed missing from results: %+v", out.Results)
	}
	if out.Counts.Session == 0 {
		t.Fatalf("counts = %+v", out.Counts)
	}
}

func TestSearchEmptyQueryDegrades(t *testing.T) {
	s := newServices(t)
	res, err := s.retrieval.Search(context.Background(), SearchRequest{Query: "   "})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Degraded || len(res.Results) != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestSearchRejectsOutOfRangeLimits(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	for _, req := range []SearchRequest{
		{Query: "pipeline", MaxResults: 51},
		{Query: "pipeline", MaxResults: -3},
		{Query: "pipeline", CandidateMultiplier: 21},
		{Query: "pipeline", CandidateMultiplier: -1},
	} {
		if _, err := s.retrieval.Search(ctx, req); err == nil {
			t.Errorf("Search(%+v) accepted an out-of-range value", req)
		}
	}

	if _, err := s.retrieval.Search(ctx, SearchRequest{Query: "pipeline", MaxResults: 50}); err != nil {
		t.Fatalf("max_results at the cap rejected: %v", err)
	}
	if _, err := s.retrieval.Search(ctx, SearchRequest{Query: "pipeline"}); err != nil {
		t.Fatalf("defaulted limits rejected: %v", err)
	}
}
