package handlers

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/skip2/go-qrcode"

	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/services"
)

// ==================== Matches ====================

func (h *Handlers) handleListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.Match.ListMatches(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if matches == nil {
		matches = []models.Match{}
	}
	respondOK(w, MatchesResponse{Matches: matches})
}

func (h *Handlers) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req services.NewMatch
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	m, err := h.Match.CreateMatch(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondCreated(w, m)
}

func (h *Handlers) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	m, err := h.Match.GetMatch(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, m)
}

func (h *Handlers) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	events, err := h.Match.Events(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if events == nil {
		events = []models.ScoringEvent{}
	}
	respondOK(w, EventsResponse{MatchID: id, Events: events})
}

func (h *Handlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	stats, err := h.Match.Stats(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, stats)
}

func (h *Handlers) handleScore(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var req ScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if !req.Actor.Valid() {
		respondError(w, BadRequest("Invalid actor: must be wrestler or opponent"))
		return
	}
	if req.Action == "" {
		respondError(w, BadRequest("Action is required"))
		return
	}

	res, err := h.Match.Score(r.Context(), id, req.Actor, req.Action)
	if err != nil {
		respondError(w, err)
		return
	}
	respondCreated(w, res)
}

// handleClock drives the match state machine: start, pause, resume, advance
func (h *Handlers) handleClock(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	op, err := idParam(r, "op")
	if err != nil {
		respondError(w, err)
		return
	}

	ctx := r.Context()
	var m *models.Match
	switch op {
	case "start":
		m, err = h.Match.StartPeriod(ctx, id)
	case "pause":
		m, err = h.Match.Pause(ctx, id)
	case "resume":
		m, err = h.Match.Resume(ctx, id)
	case "advance":
		m, err = h.Match.Advance(ctx, id)
	default:
		respondError(w, NotFound("Unknown clock operation: "+op))
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, m)
}

func (h *Handlers) handleFlags(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var req FlagsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.BloodTime == nil && req.InjuryTime == nil {
		respondError(w, BadRequest("No flags specified"))
		return
	}

	ctx := r.Context()
	var m *models.Match
	if req.BloodTime != nil {
		if m, err = h.Match.SetBloodTime(ctx, id, *req.BloodTime); err != nil {
			respondError(w, err)
			return
		}
	}
	if req.InjuryTime != nil {
		if m, err = h.Match.SetInjuryTime(ctx, id, *req.InjuryTime); err != nil {
			respondError(w, err)
			return
		}
	}
	respondOK(w, m)
}

func (h *Handlers) handleEndMatch(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var req EndRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if !req.Reason.Valid() {
		respondError(w, BadRequest("Invalid end reason: "+string(req.Reason)))
		return
	}
	if req.PinTimeSeconds != nil && *req.PinTimeSeconds < 0 {
		respondError(w, BadRequest("Invalid pin time"))
		return
	}

	m, err := h.Match.End(r.Context(), id, req.EndMatch())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, m)
}

func (h *Handlers) handleGetRules(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.Match.Rules())
}

// handleMatchQR renders a QR code that opens the console on one match, so a
// second device at the table can follow it
func (h *Handlers) handleMatchQR(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	ctx := r.Context()
	m, err := h.Match.GetMatch(ctx, id)
	if err != nil {
		respondError(w, err)
		return
	}

	baseURL, err := h.Settings.GetBaseURL(ctx)
	if err != nil {
		respondError(w, err)
		return
	}
	if baseURL == "" {
		respondError(w, services.ErrBaseURLNotConfigured)
		return
	}

	consoleURL := fmt.Sprintf("%s/console?match=%s", baseURL, url.QueryEscape(m.ID))
	png, err := qrcode.Encode(consoleURL, qrcode.Medium, 256)
	if err != nil {
		respondError(w, InternalError(err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(png)
}
