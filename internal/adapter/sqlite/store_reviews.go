package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/review"
)

// PutReview persists a pending cleanup review.
func (s *Store) PutReview(ctx context.Context, r *review.CleanupReview) error {
	selections, err := json.Marshal(r.Selections)
	if err != nil {
		return fmt.Errorf("marshal selections: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cleanup_reviews (review_id, token, action, reviewer, selections, confirmation_phrase, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReviewID, r.Token, string(r.Action), r.Reviewer, string(selections),
		r.ConfirmationPhrase, r.CreatedAt.UTC().Format(timeLayout), r.ExpiresAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("put review %s: %w", r.ReviewID, err)
	}
	return nil
}

// GetReview returns one pending review.
func (s *Store) GetReview(ctx context.Context, reviewID string) (*review.CleanupReview, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT review_id, token, action, reviewer, selections, confirmation_phrase, created_at, expires_at
		 FROM cleanup_reviews WHERE review_id = ?`, reviewID)
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review %s: %w", reviewID, domain.ErrReviewNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get review %s: %w", reviewID, err)
	}
	return r, nil
}

// DeleteReview removes a review; confirm and expiry both end here.
func (s *Store) DeleteReview(ctx context.Context, reviewID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cleanup_reviews WHERE review_id = ?`, reviewID)
	if err != nil {
		return fmt.Errorf("delete review %s: %w", reviewID, err)
	}
	return nil
}

// CountPendingReviews counts reviews that have not yet expired at now.
func (s *Store) CountPendingReviews(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM cleanup_reviews WHERE expires_at > ?`,
		s.now().UTC().Format(timeLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}

// PurgeExpiredReviews deletes reviews past their TTL. Returns how many.
func (s *Store) PurgeExpiredReviews(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cleanup_reviews WHERE expires_at <= ?`,
		s.now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("purge reviews: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListPendingReviews returns unexpired reviews, oldest first. Tokens and
// phrases are included; callers expose only what the wire contract allows.
func (s *Store) ListPendingReviews(ctx context.Context) ([]review.CleanupReview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT review_id, token, action, reviewer, selections, confirmation_phrase, created_at, expires_at
		 FROM cleanup_reviews WHERE expires_at > ? ORDER BY created_at`,
		s.now().UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []review.CleanupReview
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReview(row rowScanner) (*review.CleanupReview, error) {
	var r review.CleanupReview
	var action, selections, created, expires string
	if err := row.Scan(&r.ReviewID, &r.Token, &action, &r.Reviewer, &selections,
		&r.ConfirmationPhrase, &created, &expires); err != nil {
		return nil, err
	}
	r.Action = review.Action(action)
	r.CreatedAt, _ = parseTime(created)
	r.ExpiresAt, _ = parseTime(expires)
	if err := json.Unmarshal([]byte(selections), &r.Selections); err != nil {
		return nil, fmt.Errorf("unmarshal selections: %w", err)
	}
	return &r, nil
}
