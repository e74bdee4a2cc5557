// Package http provides the maintenance, review and browse control plane.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mnemolabs/palace/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request_body_too_large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid_request_body")
		}
		return v, false
	}
	return v, true
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

// writeValidationOr writes a 400 for plain validation errors and reports
// whether it handled err. Domain-coded errors fall through to
// writeDomainError.
func writeValidationOr(w http.ResponseWriter, err error) bool {
	if domain.IsDomain(err) {
		return false
	}
	writeError(w, http.StatusBadRequest, err.Error())
	return true
}

// writeDomainError maps domain error codes onto HTTP statuses. Codes are
// part of the wire contract and travel in the body unchanged.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.Code(err)
	switch code {
	case "address_not_found", "parent_not_found", "chunk_not_found",
		"job_not_found", "review_not_found", "snapshot_not_found":
		writeError(w, http.StatusNotFound, code)
	case "invalid_domain", "invalid_path", "invalid_title", "invalid_priority",
		"invalid_slice", "empty_content":
		writeError(w, http.StatusBadRequest, code)
	case "path_exists", "patch_not_found", "patch_ambiguous", "stale_state",
		"confirmation_phrase_mismatch", "review_expired", "pending_reviews_full",
		"job_already_finalized":
		writeError(w, http.StatusConflict, code)
	case "queue_full":
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:  "index_job_enqueue_failed",
			Reason: "queue_full",
		})
	case "lane_timeout", "wait_timeout":
		writeError(w, http.StatusServiceUnavailable, code)
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
