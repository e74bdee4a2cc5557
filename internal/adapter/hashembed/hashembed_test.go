package hashembed

import (
	"context"
	"math"
	"testing"

	"github.com/mnemolabs/palace/internal/port/embedding"
)

func TestEmbedDeterministic(t *testing.T) {
	e := New(256)
	a, err := e.Embed(context.Background(), "prefer concise code")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(context.Background(), "prefer concise code")
	if err != nil {
		t.Fatal(err)
	}
	if sim := embedding.Cosine(a, b); math.Abs(sim-1.0) > 1e-6 {
		t.Errorf("identical texts cosine = %v, want 1.0", sim)
	}
}

func TestEmbedNormalized(t *testing.T) {
	e := New(128)
	v, err := e.Embed(context.Background(), "alpha beta gamma delta")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 128 {
		t.Fatalf("dim = %d", len(v))
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("norm² = %v, want 1.0", norm)
	}
}

func TestEmbedSimilarityOrdering(t *testing.T) {
	e := New(256)
	ctx := context.Background()
	base, _ := e.Embed(ctx, "the deploy pipeline failed on friday")
	near, _ := e.Embed(ctx, "the deploy pipeline failed")
	far, _ := e.Embed(ctx, "quarterly revenue projections spreadsheet")

	simNear := embedding.Cosine(base, near)
	simFar := embedding.Cosine(base, far)
	if simNear <= simFar {
		t.Errorf("overlapping text sim %v should exceed disjoint sim %v", simNear, simFar)
	}
}

func TestEmbedEmptyText(t *testing.T) {
	e := New(64)
	v, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatal("empty text must produce the zero vector")
		}
	}
}

func TestEmbedBatch(t *testing.T) {
	e := New(64)
	vs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 {
		t.Fatalf("batch size = %d", len(vs))
	}
	single, _ := e.Embed(context.Background(), "one")
	if embedding.Cosine(vs[0], single) < 0.999 {
		t.Error("batch embedding differs from single embedding")
	}
}
