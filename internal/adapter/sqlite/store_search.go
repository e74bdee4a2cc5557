package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/mnemolabs/palace/internal/chunker"
	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/search"
	"github.com/mnemolabs/palace/internal/port/embedding"
)

// KeywordHit is one full-text candidate. Score is 1/(1+bm25rank), already
// normalized to (0, 1].
type KeywordHit struct {
	MemoryID string
	ChunkSeq int
	Score    float64
	Snippet  string
}

// SearchKeyword runs BM25-ranked full-text retrieval over the chunk index,
// keeping the best chunk per memory.
func (s *Store) SearchKeyword(ctx context.Context, query string, limit int) ([]KeywordHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.memory_id, c.seq, bm25(chunks_fts) AS rank,
		        snippet(chunks_fts, 0, '', '', '…', 12)
		 FROM chunks_fts
		 JOIN memory_chunks c ON c.rowid = chunks_fts.rowid
		 JOIN memories m ON m.id = c.memory_id
		 WHERE chunks_fts MATCH ? AND m.deprecated = 0
		 ORDER BY rank LIMIT ?`,
		match, limit*4)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	best := make(map[string]KeywordHit)
	order := make([]string, 0, limit)
	for rows.Next() {
		var h KeywordHit
		var rank float64
		if err := rows.Scan(&h.MemoryID, &h.ChunkSeq, &rank, &h.Snippet); err != nil {
			return nil, err
		}
		// bm25() returns lower-is-better; SQLite reports it negated on
		// some builds, so fold to a magnitude first.
		h.Score = 1 / (1 + math.Abs(rank))
		if prev, ok := best[h.MemoryID]; !ok {
			best[h.MemoryID] = h
			order = append(order, h.MemoryID)
		} else if h.Score > prev.Score {
			best[h.MemoryID] = h
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := make([]KeywordHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, best[id])
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// ftsQuery converts free text into a safe FTS5 OR-query of quoted tokens.
func ftsQuery(q string) string {
	toks := search.Tokenize(q)
	if len(toks) == 0 {
		return ""
	}
	quoted := make([]string, len(toks))
	for i, t := range toks {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// VectorHit is one dense-retrieval candidate with raw cosine similarity.
type VectorHit struct {
	MemoryID string
	Cosine   float64
}

// UpsertVector stores the embedding for a memory.
func (s *Store) UpsertVector(ctx context.Context, memoryID, model string, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_vectors (memory_id, model, dim, vec) VALUES (?, ?, ?, ?)
		 ON CONFLICT(memory_id) DO UPDATE SET model = excluded.model, dim = excluded.dim, vec = excluded.vec`,
		memoryID, model, len(vec), encodeVector(vec))
	if err != nil {
		return fmt.Errorf("upsert vector %s: %w", memoryID, err)
	}
	return nil
}

// DeleteVector removes the embedding for a memory.
func (s *Store) DeleteVector(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id = ?`, memoryID)
	return err
}

// SearchVector scans stored vectors and returns the top matches by cosine.
// The table is small enough that a linear scan beats index maintenance.
func (s *Store) SearchVector(ctx context.Context, queryVec []float32, limit int) ([]VectorHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.memory_id, v.vec FROM memory_vectors v
		 JOIN memories m ON m.id = v.memory_id WHERE m.deprecated = 0`)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec := decodeVector(blob)
		if len(vec) != len(queryVec) {
			continue
		}
		hits = append(hits, VectorHit{MemoryID: id, Cosine: embedding.Cosine(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortVectorHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func sortVectorHits(hits []VectorHit) {
	// Insertion sort keeps ties stable by scan order (memory id order is
	// already deterministic from the query).
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Cosine > hits[j-1].Cosine; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

// ReindexChunks rebuilds the chunk rows (and through triggers the FTS
// entries) for one memory. Running it twice is a no-op on the index state.
func (s *Store) ReindexChunks(ctx context.Context, memoryID string, opts chunker.Options) error {
	m, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_chunks WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("clear chunks %s: %w", memoryID, err)
	}
	if !m.Deprecated {
		for _, c := range chunker.Split(m.Content, opts) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_chunks (memory_id, seq, text, start_off, end_off)
				 VALUES (?, ?, ?, ?, ?)`,
				memoryID, c.Seq, c.Text, c.Start, c.End); err != nil {
				return fmt.Errorf("insert chunk %s/%d: %w", memoryID, c.Seq, err)
			}
		}
	}
	return tx.Commit()
}

// DropIndexEntries removes the chunk and vector entries for one memory.
func (s *Store) DropIndexEntries(ctx context.Context, memoryID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_chunks WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("drop chunks %s: %w", memoryID, err)
	}
	return s.DeleteVector(ctx, memoryID)
}

// GetChunk returns one chunk of a memory by sequence number.
func (s *Store) GetChunk(ctx context.Context, memoryID string, seq int) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM memory_chunks WHERE memory_id = ? AND seq = ?`, memoryID, seq).Scan(&text)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("chunk %s/%d: %w", memoryID, seq, domain.ErrChunkNotFound)
	}
	return text, err
}

// CountChunks returns the number of indexed chunks for a memory.
func (s *Store) CountChunks(ctx context.Context, memoryID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM memory_chunks WHERE memory_id = ?`, memoryID).Scan(&n)
	return n, err
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
