package handlers

import (
	"time"

	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/services"
)

// ScoreRequest represents one scoring action entered on the console
type ScoreRequest struct {
	Actor  models.Participant `json:"actor"`
	Action models.Action      `json:"action"`
}

// FlagsRequest toggles the blood and injury time clocks. Omitted flags are
// left alone.
type FlagsRequest struct {
	BloodTime  *bool `json:"blood_time"`
	InjuryTime *bool `json:"injury_time"`
}

// EndRequest represents a request to end a match
type EndRequest struct {
	Reason         models.EndReason `json:"reason"`
	WinnerID       string           `json:"winner_id"`
	PinTimeSeconds *float64         `json:"pin_time_seconds"`
}

// EndMatch converts the request into the service input
func (r EndRequest) EndMatch() services.EndMatch {
	in := services.EndMatch{Reason: r.Reason, WinnerID: r.WinnerID}
	if r.PinTimeSeconds != nil {
		d := time.Duration(*r.PinTimeSeconds * float64(time.Second))
		in.PinTime = &d
	}
	return in
}

// StartRecordingRequest represents a request to start recording a match
type StartRecordingRequest struct {
	MatchID string `json:"match_id"`
}

// ImportRequest carries candidates scraped by the browser extension
type ImportRequest struct {
	Source     string                   `json:"source"`
	Candidates []models.ImportCandidate `json:"candidates"`
}

// ResolveReviewRequest links a review item to an existing record. An empty
// link_to keeps the candidate as a new record.
type ResolveReviewRequest struct {
	LinkTo string `json:"link_to"`
}

// SettingsUpdateRequest represents a request to update settings
type SettingsUpdateRequest struct {
	RemoteURL   string  `json:"remote_url"`
	RemoteToken *string `json:"remote_token"`
	BaseURL     string  `json:"base_url"`
	TeamID      *string `json:"team_id"`
}

// ResetRequest represents a request to clear local caches
type ResetRequest struct {
	Namespaces []string `json:"namespaces"`
}

// LoginRequest is the JSON login used by the browser extension
type LoginRequest struct {
	Password string `json:"password"`
}
