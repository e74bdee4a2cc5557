// Package review defines the two-phase cleanup review protocol records.
package review

import (
	"errors"
	"fmt"
	"time"
)

// Action is what a confirmed review does to its selections.
type Action string

const (
	ActionDelete Action = "delete"
	ActionKeep   Action = "keep"
)

// Selection pins one memory at a known state for the review.
type Selection struct {
	MemoryID  string `json:"memory_id"`
	StateHash string `json:"state_hash"`
}

// CleanupReview is a pending two-phase review. It is one-shot: consumed on
// confirm, discarded on expiry.
type CleanupReview struct {
	ReviewID           string      `json:"review_id"`
	Token              string      `json:"token"`
	Action             Action      `json:"action"`
	Reviewer           string      `json:"reviewer"`
	Selections         []Selection `json:"selections"`
	ConfirmationPhrase string      `json:"confirmation_phrase"`
	CreatedAt          time.Time   `json:"created_at"`
	ExpiresAt          time.Time   `json:"expires_at"`
}

// Expired reports whether the review TTL has elapsed at now.
func (r *CleanupReview) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// PrepareRequest is the phase-one input.
type PrepareRequest struct {
	Action     Action      `json:"action"`
	Reviewer   string      `json:"reviewer"`
	Selections []Selection `json:"selections"`
}

// Validate checks the prepare request shape.
func (r *PrepareRequest) Validate() error {
	if r.Action != ActionDelete && r.Action != ActionKeep {
		return fmt.Errorf("invalid action %q: must be delete or keep", r.Action)
	}
	if len(r.Selections) == 0 {
		return errors.New("at least one selection is required")
	}
	for _, s := range r.Selections {
		if s.MemoryID == "" || s.StateHash == "" {
			return errors.New("each selection requires memory_id and state_hash")
		}
	}
	return nil
}

// ConfirmRequest is the phase-two input.
type ConfirmRequest struct {
	ReviewID           string `json:"review_id"`
	Token              string `json:"token"`
	ConfirmationPhrase string `json:"confirmation_phrase"`
}

// ConfirmResult reports per-selection outcome counts after a confirm.
type ConfirmResult struct {
	Status       string `json:"status"`
	DeletedCount int    `json:"deleted_count"`
	KeptCount    int    `json:"kept_count"`
	SkippedCount int    `json:"skipped_count"`
	ErrorCount   int    `json:"error_count"`
}
