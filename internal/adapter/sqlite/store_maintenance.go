package sqlite

import (
	"context"
	"fmt"
)

// DeprecateMemory marks a memory deprecated, optionally recording a
// successor id. Its index entries are removed.
func (s *Store) DeprecateMemory(ctx context.Context, memoryID, migratedTo string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(timeLayout)
	var mt any
	if migratedTo != "" {
		mt = migratedTo
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET deprecated = 1, migrated_to = ?, updated_at = ? WHERE id = ?`,
		mt, now, memoryID); err != nil {
		return fmt.Errorf("deprecate %s: %w", memoryID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_chunks WHERE memory_id = ?`, memoryID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id = ?`, memoryID); err != nil {
		return err
	}
	return tx.Commit()
}

// RepointPaths moves every path of fromID onto toID.
func (s *Store) RepointPaths(ctx context.Context, fromID, toID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE paths SET memory_id = ? WHERE memory_id = ?`, toID, fromID)
	if err != nil {
		return 0, fmt.Errorf("repoint paths %s -> %s: %w", fromID, toID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeMemory hard-deletes a memory and everything attached to it. Paths
// must already be gone; snapshots are intentionally left behind.
func (s *Store) PurgeMemory(ctx context.Context, memoryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM memory_chunks WHERE memory_id = ?`,
		`DELETE FROM memory_vectors WHERE memory_id = ?`,
		`DELETE FROM tags WHERE memory_id = ?`,
		`DELETE FROM gists WHERE memory_id = ?`,
		`DELETE FROM memories WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, memoryID); err != nil {
			return fmt.Errorf("purge %s: %w", memoryID, err)
		}
	}
	return tx.Commit()
}

// ListVectors streams every stored vector; used by sleep consolidation to
// cluster near-duplicates.
func (s *Store) ListVectors(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT memory_id, vec FROM memory_vectors`)
	if err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out[id] = decodeVector(blob)
	}
	return out, rows.Err()
}
