package chunker

import (
	"strings"
	"testing"
)

func TestSplitShortText(t *testing.T) {
	chunks := Split("a short note", DefaultOptions())
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Text != "a short note" {
		t.Errorf("Text = %q", chunks[0].Text)
	}
}

func TestSplitEmptyText(t *testing.T) {
	if chunks := Split("   \n ", DefaultOptions()); chunks != nil {
		t.Errorf("chunks = %v, want nil", chunks)
	}
}

func TestSplitOverlap(t *testing.T) {
	text := strings.Repeat("word ", 600) // ~3000 bytes
	chunks := Split(text, Options{Size: 1000, Overlap: 200})
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start >= chunks[i-1].End {
			t.Errorf("chunk %d starts at %d, after previous end %d; chunks must overlap",
				i, chunks[i].Start, chunks[i-1].End)
		}
	}
}

func TestSplitPrefersNewline(t *testing.T) {
	// A newline placed past the half-chunk point should become the cut.
	text := strings.Repeat("x", 700) + "\n" + strings.Repeat("y", 600)
	chunks := Split(text, Options{Size: 1000, Overlap: 100})
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want >= 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, "\n") {
		t.Errorf("first chunk should end at the newline, got end %d", chunks[0].End)
	}
}

func TestSplitCoversAllContent(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("alpha beta gamma delta epsilon ", 200))
	chunks := Split(text, Options{Size: 500, Overlap: 100})
	last := chunks[len(chunks)-1]
	if last.End != len(text) {
		t.Errorf("last chunk ends at %d, want %d", last.End, len(text))
	}
	for i, c := range chunks {
		if c.Text != text[c.Start:c.End] {
			t.Errorf("chunk %d text does not match its offsets", i)
		}
	}
}
