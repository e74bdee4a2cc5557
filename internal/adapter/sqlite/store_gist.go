package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mnemolabs/palace/internal/domain/memory"
)

// UpsertGist writes a gist keyed on (memory_id, source_content_hash).
// Content changes produce a new hash, so stale gists age out naturally.
func (s *Store) UpsertGist(ctx context.Context, g *memory.Gist) error {
	now := s.now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gists (memory_id, source_content_hash, gist_text, gist_method, quality, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(memory_id, source_content_hash) DO UPDATE SET
		   gist_text = excluded.gist_text, gist_method = excluded.gist_method,
		   quality = excluded.quality, updated_at = excluded.updated_at`,
		g.MemoryID, g.SourceContentHash, g.GistText, g.GistMethod, g.Quality, now, now)
	if err != nil {
		return fmt.Errorf("upsert gist %s: %w", g.MemoryID, err)
	}
	return nil
}

// GetGist returns the gist for a memory's current content, if present.
func (s *Store) GetGist(ctx context.Context, memoryID, sourceHash string) (*memory.Gist, error) {
	var g memory.Gist
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT memory_id, source_content_hash, gist_text, gist_method, quality, created_at, updated_at
		 FROM gists WHERE memory_id = ? AND source_content_hash = ?`,
		memoryID, sourceHash).Scan(&g.MemoryID, &g.SourceContentHash, &g.GistText, &g.GistMethod, &g.Quality, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gist %s: %w", memoryID, err)
	}
	g.CreatedAt, _ = parseTime(created)
	g.UpdatedAt, _ = parseTime(updated)
	return &g, nil
}

// SetTags replaces the tag set of a memory.
func (s *Store) SetTags(ctx context.Context, memoryID string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("clear tags %s: %w", memoryID, err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tags (memory_id, tag) VALUES (?, ?)`, memoryID, tag); err != nil {
			return fmt.Errorf("insert tag %s/%s: %w", memoryID, tag, err)
		}
	}
	return tx.Commit()
}

// GetTags returns the tags of a memory in sorted order.
func (s *Store) GetTags(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM tags WHERE memory_id = ? ORDER BY tag`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("get tags %s: %w", memoryID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
