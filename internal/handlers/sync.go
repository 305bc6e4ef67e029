package handlers

import (
	"net/http"

	"github.com/thefortaiagency/aether-insight/internal/models"
)

// ==================== Sync Queue ====================

func (h *Handlers) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Sync.Status(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, status)
}

// handleSyncNow drains the queue immediately. An offline device answers
// with a skipped drain rather than an error.
func (h *Handlers) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sync.SyncNow(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, res)
}

func (h *Handlers) handleListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.Sync.ListOperations(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if ops == nil {
		ops = []models.PendingOperation{}
	}
	respondOK(w, OperationsResponse{Operations: ops})
}

func (h *Handlers) handleRetryOperation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	op, err := h.Sync.Retry(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, op)
}

func (h *Handlers) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Sync.RetryAll(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, RetryAllResponse{Retried: n})
}

func (h *Handlers) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.Sync.StorageUsage(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, usage)
}
