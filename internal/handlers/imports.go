package handlers

import (
	"net/http"

	"github.com/thefortaiagency/aether-insight/internal/dedup"
	"github.com/thefortaiagency/aether-insight/internal/importer"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

// ==================== Extension Imports ====================

func (h *Handlers) handleAddImports(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.Candidates) == 0 {
		respondError(w, BadRequest("No candidates provided"))
		return
	}
	if req.Source == "" {
		req.Source = "extension"
	}

	n, err := h.Import.Add(r.Context(), req.Source, req.Candidates)
	if err != nil {
		respondError(w, err)
		return
	}
	respondCreated(w, ImportAddResponse{Added: n})
}

func (h *Handlers) handleListImports(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Import.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if entries == nil {
		entries = []importer.Entry{}
	}
	respondOK(w, ImportsResponse{Entries: entries})
}

// handleClassify scores candidates against the roster without buffering them
func (h *Handlers) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	results, err := h.Import.Classify(r.Context(), req.Candidates)
	if err != nil {
		respondError(w, err)
		return
	}
	if results == nil {
		results = []dedup.BatchResult{}
	}
	respondOK(w, ClassifyResponse{Results: results})
}

func (h *Handlers) handleFlushImports(w http.ResponseWriter, r *http.Request) {
	res, err := h.Import.Flush(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, res)
}

func (h *Handlers) handleClearImports(w http.ResponseWriter, r *http.Request) {
	if err := h.Import.Clear(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondDeleted(w)
}

func (h *Handlers) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.Import.ListReviews(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if reviews == nil {
		reviews = []models.ReviewItem{}
	}
	respondOK(w, ReviewsResponse{Reviews: reviews})
}

func (h *Handlers) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var req ResolveReviewRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	op, err := h.Import.ResolveReview(r.Context(), id, req.LinkTo)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, ResolveReviewResponse{Operation: op})
}
