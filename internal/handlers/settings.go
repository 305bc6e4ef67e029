package handlers

import (
	"net/http"

	"github.com/thefortaiagency/aether-insight/internal/services"
)

// ==================== Settings ====================

func (h *Handlers) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Settings.AllSettings(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, settings)
}

func (h *Handlers) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	err := h.Settings.UpdateSettings(r.Context(), services.Settings{
		RemoteURL:   req.RemoteURL,
		RemoteToken: req.RemoteToken,
		BaseURL:     req.BaseURL,
		TeamID:      req.TeamID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, "Settings updated")
}

// handleReset clears the named local caches. Match data is never cleared.
func (h *Handlers) handleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	res, err := h.Settings.ResetNamespaces(r.Context(), req.Namespaces)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, res)
}
