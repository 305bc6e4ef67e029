package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/thefortaiagency/aether-insight/internal/models"
)

// MaxChunkBytes caps a single recorded chunk posted by the console
const MaxChunkBytes = 32 << 20

// ==================== Video ====================

func (h *Handlers) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req StartRecordingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.MatchID == "" {
		respondError(w, BadRequest("match_id is required"))
		return
	}

	v, err := h.Video.StartRecording(r.Context(), req.MatchID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondCreated(w, v)
}

// handleWriteChunk appends the raw request body to the active recording
func (h *Handlers) handleWriteChunk(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxChunkBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			respondError(w, NewAPIError(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Chunk too large"))
			return
		}
		respondError(w, BadRequest("Failed to read chunk"))
		return
	}

	v, err := h.Video.WriteChunk(r.Context(), data)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, v)
}

func (h *Handlers) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	v, err := h.Video.StopRecording(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, v)
}

func (h *Handlers) handleActiveRecording(w http.ResponseWriter, r *http.Request) {
	v, ok := h.Video.Active()
	if !ok {
		respondOK(w, ActiveRecordingResponse{})
		return
	}
	respondOK(w, ActiveRecordingResponse{Recording: true, Video: &v})
}

func (h *Handlers) handleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.Video.ListVideos(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if videos == nil {
		videos = []models.VideoAsset{}
	}
	respondOK(w, VideosResponse{Videos: videos})
}

func (h *Handlers) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	v, err := h.Video.GetVideo(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, v)
}

func (h *Handlers) handleSweepVideos(w http.ResponseWriter, r *http.Request) {
	n, err := h.Video.Sweep(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, SweepResponse{Requeued: n})
}
