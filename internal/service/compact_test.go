package service

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeGister returns a canned gist, or fails when told to.
type fakeGister struct {
	text    string
	quality float64
	err     error
}

func (f *fakeGister) Gist(ctx context.Context, content string, maxPoints, maxChars int) (string, float64, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	return f.text, f.quality, nil
}

func newCompactor(s *services, g *fakeGister) *Compactor {
	if g == nil {
		return NewCompactor(s.store, s.lane, s.worker, nil, s.cfg.Compact, "core", testLogger())
	}
	return NewCompactor(s.store, s.lane, s.worker, g, s.cfg.Compact, "core", testLogger())
}

func TestCompactFlushesSession(t *testing.T) {
	s := newServices(t)
	c := newCompactor(s, &fakeGister{text: "- did the thing", quality: 0.9})
	ctx := context.Background()

	out, err := c.Compact(ctx, CompactRequest{
		SessionID: "Sess_42",
		Content:   "line one\nline two\nline three",
		Reason:    "window_full",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Flushed || out.GistMethod != "llm" || out.Quality != 0.9 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Address != "core://sessions/sess_42" {
		t.Fatalf("address = %s", out.Address)
	}
	if out.Enqueue.Queued != 1 {
		t.Fatalf("enqueue = %+v", out.Enqueue)
	}

	got, err := s.resolver.Read(ctx, out.Address, ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.Content, "line two") {
		t.Fatalf("flushed content = %q", got.Content)
	}

	gist, err := s.store.GetGist(ctx, got.MemoryID, out.SourceHash)
	if err != nil {
		t.Fatal(err)
	}
	if gist == nil || gist.GistText != "- did the thing" {
		t.Fatalf("gist = %+v", gist)
	}
}

func TestCompactFallsBackToExtractive(t *testing.T) {
	s := newServices(t)
	c := newCompactor(s, &fakeGister{err: errors.New("model unavailable")})
	ctx := context.Background()

	out, err := c.Compact(ctx, CompactRequest{
		SessionID: "s1",
		Content:   "first point\nsecond point\nthird point\nfourth point",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.GistMethod != "extractive" {
		t.Fatalf("method = %s", out.GistMethod)
	}
	if !out.Degraded {
		t.Fatal("llm failure did not set degraded")
	}
	has := false
	for _, d := range out.DegradeReasons {
		if d == "compact_gist_llm_empty" {
			has = true
		}
	}
	if !has {
		t.Fatalf("degrade = %v", out.DegradeReasons)
	}
}

func TestCompactEmptyContentNoop(t *testing.T) {
	s := newServices(t)
	c := newCompactor(s, nil)

	out, err := c.Compact(context.Background(), CompactRequest{SessionID: "s2", Content: "   "})
	if err != nil {
		t.Fatal(err)
	}
	if out.Flushed {
		t.Fatal("empty content was flushed without force")
	}
}

func TestCompactSecondFlushReplaces(t *testing.T) {
	s := newServices(t)
	c := newCompactor(s, nil)
	ctx := context.Background()

	if _, err := c.Compact(ctx, CompactRequest{SessionID: "s3", Content: "first window"}); err != nil {
		t.Fatal(err)
	}
	out, err := c.Compact(ctx, CompactRequest{SessionID: "s3", Content: "second window"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.resolver.Read(ctx, out.Address, ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "second window" {
		t.Fatalf("content = %q", got.Content)
	}
}
