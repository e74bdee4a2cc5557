package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListSessionSnapshots lists the pending pre-state snapshots of a session.
func (h *Handlers) ListSessionSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.ledger.List(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

// DiffSnapshot compares a snapshot's pre-state against the current state.
func (h *Handlers) DiffSnapshot(w http.ResponseWriter, r *http.Request) {
	resourceID := r.URL.Query().Get("resource_id")
	if resourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id_query_required")
		return
	}
	diff, err := h.ledger.Diff(r.Context(), chi.URLParam(r, "session"), resourceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

type snapshotActionRequest struct {
	ResourceID string `json:"resource_id"`
}

// ApproveSnapshot accepts a change, discarding its rollback point.
func (h *Handlers) ApproveSnapshot(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[snapshotActionRequest](w, r)
	if !ok {
		return
	}
	if req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id_required")
		return
	}
	if err := h.ledger.Approve(r.Context(), chi.URLParam(r, "session"), req.ResourceID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "approved", "resource_id": req.ResourceID})
}

// RollbackSnapshot restores the captured pre-state of one resource.
func (h *Handlers) RollbackSnapshot(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[snapshotActionRequest](w, r)
	if !ok {
		return
	}
	if req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id_required")
		return
	}
	if err := h.ledger.Rollback(r.Context(), chi.URLParam(r, "session"), req.ResourceID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rolled_back", "resource_id": req.ResourceID})
}

// ClearSnapshots drops every pending snapshot of a session.
func (h *Handlers) ClearSnapshots(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.ledger.Clear(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "count": cleared})
}
