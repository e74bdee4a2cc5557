package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/indexjob"
)

// GetIndexStatus reports the worker overview plus the last sleep
// consolidation preview.
func (h *Handlers) GetIndexStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"worker": h.worker.Overview()}
	if h.sleep != nil {
		if preview := h.sleep.LastPreview(); preview != nil {
			resp["sleep_preview"] = preview
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetIndexJob returns one job by id.
func (h *Handlers) GetIndexJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.worker.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelIndexJob cancels a queued or running job.
func (h *Handlers) CancelIndexJob(w http.ResponseWriter, r *http.Request) {
	state, err := h.worker.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// RetryIndexJob re-enqueues a finished job under a new id.
func (h *Handlers) RetryIndexJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.worker.Retry(r.Context(), chi.URLParam(r, "id"), "operator retry")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID})
}

type enqueueRequest struct {
	MemoryID string `json:"memory_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Wait     bool   `json:"wait,omitempty"`
	Timeout  int    `json:"timeout,omitempty"` // seconds
}

// RebuildIndex enqueues a full index rebuild.
func (h *Handlers) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[enqueueRequest](w, r)
	if !ok {
		return
	}
	h.enqueue(w, r, indexjob.TaskRebuildIndex, "", req)
}

// ReindexMemory enqueues a single-memory reindex.
func (h *Handlers) ReindexMemory(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[enqueueRequest](w, r)
	if !ok {
		return
	}
	if req.MemoryID == "" {
		writeError(w, http.StatusBadRequest, "memory_id_required")
		return
	}
	h.enqueue(w, r, indexjob.TaskReindexMemory, req.MemoryID, req)
}

// TriggerSleep enqueues a sleep consolidation pass.
func (h *Handlers) TriggerSleep(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[enqueueRequest](w, r)
	if !ok {
		return
	}
	h.enqueue(w, r, indexjob.TaskSleepConsolidation, "", req)
}

func (h *Handlers) enqueue(w http.ResponseWriter, r *http.Request, task indexjob.TaskType, memoryID string, req enqueueRequest) {
	outcome, jobID, err := h.worker.Enqueue(r.Context(), task, memoryID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var stats indexjob.EnqueueStats
	stats.Record(outcome)
	resp := map[string]any{
		"job_id":        jobID,
		"index_queued":  stats.Queued,
		"index_deduped": stats.Deduped,
		"index_dropped": stats.Dropped,
	}
	if req.Wait {
		timeout := 30 * time.Second
		if req.Timeout > 0 {
			timeout = time.Duration(req.Timeout) * time.Second
		}
		job, err := h.worker.Wait(r.Context(), jobID, timeout)
		if errors.Is(err, domain.ErrWaitTimeout) {
			resp["wait"] = "wait_timeout"
			writeJSON(w, http.StatusOK, resp)
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp["job"] = job
	}
	writeJSON(w, http.StatusOK, resp)
}
