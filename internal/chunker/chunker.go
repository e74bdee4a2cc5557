// Package chunker splits memory content into overlapping chunks for
// full-text indexing.
package chunker

import "strings"

const (
	// DefaultSize is the target chunk length in bytes.
	DefaultSize = 1000
	// DefaultOverlap is how many bytes consecutive chunks share.
	DefaultOverlap = 200
)

// Options configures chunking behavior.
type Options struct {
	Size    int
	Overlap int
}

// DefaultOptions returns the default chunking options.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Chunk is one indexed slice of the original content.
type Chunk struct {
	Seq   int
	Text  string
	Start int
	End   int
}

// Split cuts text into overlapping chunks. Cuts prefer a newline, then a
// space, as long as the break point lies past half the chunk size; otherwise
// the cut is hard. Short text returns a single chunk.
func Split(text string, opts Options) []Chunk {
	if opts.Size <= 0 {
		opts = DefaultOptions()
	}
	if opts.Overlap >= opts.Size {
		opts.Overlap = opts.Size / 2
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= opts.Size {
		return []Chunk{{Seq: 0, Text: trimmed, Start: 0, End: len(trimmed)}}
	}

	var chunks []Chunk
	start := 0
	for seq := 0; start < len(trimmed); seq++ {
		end := start + opts.Size
		if end >= len(trimmed) {
			end = len(trimmed)
		} else {
			end = breakPoint(trimmed, start, end, opts.Size)
		}

		chunks = append(chunks, Chunk{
			Seq:   seq,
			Text:  trimmed[start:end],
			Start: start,
			End:   end,
		})
		if end == len(trimmed) {
			break
		}
		start = end - opts.Overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// breakPoint moves end back to the nearest newline or space, provided the
// resulting chunk stays longer than half the target size.
func breakPoint(text string, start, end, size int) int {
	half := start + size/2
	if nl := strings.LastIndexByte(text[start:end], '\n'); nl >= 0 && start+nl > half {
		return start + nl + 1
	}
	if sp := strings.LastIndexByte(text[start:end], ' '); sp >= 0 && start+sp > half {
		return start + sp + 1
	}
	return end
}
