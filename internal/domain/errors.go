// Package domain provides shared domain-level error codes.
package domain

import "errors"

// Error is a domain error carrying a stable machine-readable code.
// Codes are part of the wire contract and must not change.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Address errors.
var (
	ErrInvalidDomain   = &Error{Code: "invalid_domain", Message: "domain is not in the configured allowlist"}
	ErrInvalidPath     = &Error{Code: "invalid_path", Message: "path segments must match [a-z0-9_-]+"}
	ErrAddressNotFound = &Error{Code: "address_not_found", Message: "no memory at this address"}
	ErrParentNotFound  = &Error{Code: "parent_not_found", Message: "parent address does not resolve"}
	ErrPathExists      = &Error{Code: "path_exists", Message: "a memory already exists at this address"}
	ErrInvalidTitle    = &Error{Code: "invalid_title", Message: "title must match [a-z0-9_-]+"}
	ErrInvalidPriority = &Error{Code: "invalid_priority", Message: "priority must be a non-negative integer"}
)

// Conflict errors.
var (
	ErrPatchNotFound  = &Error{Code: "patch_not_found", Message: "old string does not occur in content"}
	ErrPatchAmbiguous = &Error{Code: "patch_ambiguous", Message: "old string occurs more than once in content"}
)

// Read errors.
var (
	ErrInvalidSlice  = &Error{Code: "invalid_slice", Message: "at most one of chunk_id, range, max_chars may be set"}
	ErrChunkNotFound = &Error{Code: "chunk_not_found", Message: "no chunk with this sequence number"}
)

// Concurrency errors.
var (
	ErrLaneTimeout = &Error{Code: "lane_timeout", Message: "write lane admission timed out"}
	ErrStaleState  = &Error{Code: "stale_state", Message: "state hash does not match current store state"}
)

// Queue errors.
var (
	ErrQueueFull           = &Error{Code: "queue_full", Message: "index job queue is at capacity"}
	ErrJobNotFound         = &Error{Code: "job_not_found", Message: "no job with this id"}
	ErrJobAlreadyFinalized = &Error{Code: "job_already_finalized", Message: "job is in a terminal state"}
	ErrWaitTimeout         = &Error{Code: "wait_timeout", Message: "timed out waiting for job completion"}
)

// Review errors.
var (
	ErrConfirmationPhraseMismatch = &Error{Code: "confirmation_phrase_mismatch", Message: "confirmation phrase does not match"}
	ErrReviewExpired              = &Error{Code: "review_expired", Message: "cleanup review has expired"}
	ErrReviewNotFound             = &Error{Code: "review_not_found", Message: "no pending review with this id"}
	ErrPendingReviewsFull         = &Error{Code: "pending_reviews_full", Message: "too many pending cleanup reviews"}
	ErrSnapshotNotFound           = &Error{Code: "snapshot_not_found", Message: "no pending snapshot for this resource"}
)

// Migration errors. Both are fatal at startup.
var (
	ErrMigrationLockTimeout      = &Error{Code: "migration_lock_timeout", Message: "could not acquire migration lock"}
	ErrMigrationChecksumMismatch = &Error{Code: "migration_checksum_mismatch", Message: "applied migration does not match source"}
)

// Code returns the machine-readable code of err, or "internal_error" when err
// carries no domain code.
func Code(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal_error"
}

// IsDomain reports whether err carries a domain error code.
func IsDomain(err error) bool {
	var de *Error
	return errors.As(err, &de)
}
