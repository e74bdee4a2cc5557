package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

const lastDecayKey = "vitality_last_decay_day"

// Reinforce bumps a memory's vitality on access. The boost shrinks with the
// access count so frequently read memories saturate instead of pinning the
// ceiling immediately.
func (s *Store) Reinforce(ctx context.Context, memoryID string, delta, maxScore float64) error {
	m, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return err
	}

	boost := delta / (1 + math.Log(1+float64(m.AccessCount)))
	score := math.Min(maxScore, m.VitalityScore+boost)
	now := s.now().UTC().Format(timeLayout)

	_, err = s.db.ExecContext(ctx,
		`UPDATE memories SET vitality_score = ?, access_count = access_count + 1, last_accessed_at = ?
		 WHERE id = ?`, score, now, memoryID)
	if err != nil {
		return fmt.Errorf("reinforce %s: %w", memoryID, err)
	}
	return nil
}

// SetVitality pins a memory's score; used by cleanup keep.
func (s *Store) SetVitality(ctx context.Context, memoryID string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET vitality_score = ? WHERE id = ?`, score, memoryID)
	if err != nil {
		return fmt.Errorf("set vitality %s: %w", memoryID, err)
	}
	return nil
}

// DecayTick applies exponential vitality decay once per UTC day. Repeated
// calls within the same day are no-ops, making the tick idempotent.
// Returns the number of memories decayed.
func (s *Store) DecayTick(ctx context.Context, halfLifeDays, floor float64) (int, error) {
	today := s.now().UTC().Format("2006-01-02")

	var last string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, lastDecayKey).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("decay tick: %w", err)
	}
	if last == today {
		return 0, nil
	}

	deltaDays := 1.0
	if last != "" {
		if lastT, perr := time.Parse("2006-01-02", last); perr == nil {
			if todayT, perr2 := time.Parse("2006-01-02", today); perr2 == nil {
				deltaDays = todayT.Sub(lastT).Hours() / 24
			}
		}
	}
	if deltaDays <= 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// High access counts resist decay, up to a 3x slower half-life.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, vitality_score, access_count FROM memories WHERE deprecated = 0`)
	if err != nil {
		return 0, err
	}
	type upd struct {
		id    string
		score float64
	}
	var updates []upd
	for rows.Next() {
		var id string
		var score float64
		var access int64
		if err := rows.Scan(&id, &score, &access); err != nil {
			rows.Close()
			return 0, err
		}
		resistance := 1 + math.Min(2, 0.35*math.Log(1+float64(access)))
		ratio := math.Exp(-math.Ln2 * (deltaDays / resistance) / halfLifeDays)
		next := math.Max(floor, score*ratio)
		if next != score {
			updates = append(updates, upd{id: id, score: next})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET vitality_score = ? WHERE id = ?`, u.score, u.id); err != nil {
			return 0, fmt.Errorf("decay %s: %w", u.id, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, lastDecayKey, today); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(updates), nil
}
