package http

import (
	"net/http"
	"strconv"

	"github.com/mnemolabs/palace/internal/domain/review"
)

// TriggerDecay runs one governance tick immediately.
func (h *Handlers) TriggerDecay(w http.ResponseWriter, r *http.Request) {
	h.governance.Tick(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ListCleanupCandidates returns memories below the cleanup vitality
// threshold that have been inactive long enough to review.
func (h *Handlers) ListCleanupCandidates(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	candidates, err := h.governance.CleanupCandidates(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// PrepareCleanup opens a two-phase cleanup review. The response carries a
// one-shot token and the confirmation phrase the operator must echo back.
func (h *Handlers) PrepareCleanup(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[review.PrepareRequest](w, r)
	if !ok {
		return
	}
	rev, err := h.governance.PrepareCleanup(r.Context(), req)
	if err != nil {
		if !writeValidationOr(w, err) {
			writeDomainError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rev})
}

// ConfirmCleanup consumes a pending review and applies its action.
func (h *Handlers) ConfirmCleanup(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[review.ConfirmRequest](w, r)
	if !ok {
		return
	}
	result, err := h.governance.ConfirmCleanup(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
