package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/snapshot"
)

// PutSnapshot records a pre-mutation state. A pending snapshot for the same
// (session, resource) key is left in place: the first pre-state is the one
// a rollback must restore.
func (s *Store) PutSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (session_id, resource_id, resource_type, operation_type, snapshot_time, pre_state)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.ResourceID, string(snap.ResourceType), string(snap.OperationType),
		snap.SnapshotTime.UTC().Format(timeLayout), snap.PreState)
	if err != nil {
		return fmt.Errorf("put snapshot %s/%s: %w", snap.SessionID, snap.ResourceID, err)
	}
	return nil
}

// GetSnapshot returns one pending snapshot.
func (s *Store) GetSnapshot(ctx context.Context, sessionID, resourceID string) (*snapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, resource_id, resource_type, operation_type, snapshot_time, pre_state
		 FROM snapshots WHERE session_id = ? AND resource_id = ?`, sessionID, resourceID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s/%s: %w", sessionID, resourceID, domain.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns all pending snapshots of a session in admission order.
func (s *Store) ListSnapshots(ctx context.Context, sessionID string) ([]snapshot.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, resource_id, resource_type, operation_type, snapshot_time, pre_state
		 FROM snapshots WHERE session_id = ? ORDER BY snapshot_time, resource_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []snapshot.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes one pending snapshot. Reports whether it existed.
func (s *Store) DeleteSnapshot(ctx context.Context, sessionID, resourceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE session_id = ? AND resource_id = ?`, sessionID, resourceID)
	if err != nil {
		return false, fmt.Errorf("delete snapshot %s/%s: %w", sessionID, resourceID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearSnapshots removes every pending snapshot of a session.
func (s *Store) ClearSnapshots(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear snapshots %s: %w", sessionID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanSnapshot(row rowScanner) (*snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	var rt, ot, ts string
	if err := row.Scan(&snap.SessionID, &snap.ResourceID, &rt, &ot, &ts, &snap.PreState); err != nil {
		return nil, err
	}
	snap.ResourceType = snapshot.ResourceType(rt)
	snap.OperationType = snapshot.OperationType(ot)
	snap.SnapshotTime, _ = parseTime(ts)
	return &snap, nil
}
