// Package remote provides a client for the authoritative match store the
// scoring client syncs with.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/eventlog"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

// Failure classes. Every error returned by a Client wraps exactly one.
var (
	// ErrTransient covers network failures, timeouts and 5xx responses.
	ErrTransient = errors.New("remote: transient failure")
	// ErrPermanent covers 4xx responses; retrying will not help.
	ErrPermanent = errors.New("remote: permanent failure")
)

// StatusError is a non-2xx response from the remote store
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

// NewStatusError builds a StatusError for op.
func NewStatusError(op string, code int, body string) *StatusError {
	return &StatusError{Op: op, StatusCode: code, Body: body}
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap classifies the status. 408 and 429 are throttling, not rejection.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == 408 || e.StatusCode == 429:
		return ErrTransient
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrPermanent
	default:
		return ErrTransient
	}
}

// TransportError is a failure to reach the remote at all
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsPermanent reports whether the remote rejected the request.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// MatchPayload is the remote match row
type MatchPayload struct {
	LocalID           string               `json:"local_id"`
	TeamID            string               `json:"team_id,omitempty"`
	WrestlerID        string               `json:"wrestler_id"`
	WrestlerName      string               `json:"wrestler_name"`
	OpponentID        string               `json:"opponent_id"`
	OpponentName      string               `json:"opponent_name"`
	WeightClass       int                  `json:"weight_class"`
	MatchType         string               `json:"match_type"`
	Period            int                  `json:"period"`
	Status            string               `json:"status"`
	FinalScoreFor     int                  `json:"final_score_for"`
	FinalScoreAgainst int                  `json:"final_score_against"`
	WinType           string               `json:"win_type,omitempty"`
	WinnerID          string               `json:"winner_id,omitempty"`
	PinTimeSeconds    *int                 `json:"pin_time_seconds,omitempty"`
	PeriodScores      []models.PeriodScore `json:"period_scores,omitempty"`
	Stats             *eventlog.Stats      `json:"stats,omitempty"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// NewMatchPayload converts a match snapshot to its remote row.
func NewMatchPayload(m models.Match, stats *eventlog.Stats) MatchPayload {
	p := MatchPayload{
		LocalID:           m.ID,
		TeamID:            m.TeamID,
		WrestlerID:        m.WrestlerID,
		WrestlerName:      m.WrestlerName,
		OpponentID:        m.OpponentID,
		OpponentName:      m.OpponentName,
		WeightClass:       m.WeightClass,
		MatchType:         string(m.MatchType),
		Period:            m.Period,
		Status:            string(m.Status),
		FinalScoreFor:     m.FinalScoreFor(),
		FinalScoreAgainst: m.FinalScoreAgainst(),
		WinType:           string(m.WinType()),
		WinnerID:          m.WinnerID,
		PeriodScores:      m.PeriodScores,
		Stats:             stats,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.PinTime != nil {
		secs := int(m.PinTime.Seconds())
		p.PinTimeSeconds = &secs
	}
	return p
}

// MatchAck is the remote's answer to a match write
type MatchAck struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventPayload is a scoring event on the wire
type EventPayload struct {
	ID            string    `json:"id"`
	Seq           int       `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
	VideoOffsetMS int64     `json:"video_offset_ms"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	Points        int       `json:"points"`
	Credited      string    `json:"credited"`
	Period        int       `json:"period"`
}

// NewEventPayload converts a scoring event to its wire form.
func NewEventPayload(e models.ScoringEvent) EventPayload {
	return EventPayload{
		ID:            e.ID,
		Seq:           e.Seq,
		Timestamp:     e.Timestamp,
		VideoOffsetMS: e.VideoOffset.Milliseconds(),
		Actor:         string(e.Actor),
		Action:        string(e.Action),
		Points:        e.Points,
		Credited:      string(e.Credited),
		Period:        e.Period,
	}
}

// EventsAck is the remote's answer to an event append
type EventsAck struct {
	Accepted int `json:"accepted"`
}

// UploadTarget is where a video should be sent. VideoID is the provisional
// asset id confirmed by SaveUpload.
type UploadTarget struct {
	UploadURL string `json:"uploadURL"`
	VideoID   string `json:"videoId"`
	StreamURL string `json:"streamURL"`
}

// uploadURLRequest asks for a direct-upload destination
type uploadURLRequest struct {
	MatchID  string `json:"matchId"`
	FileName string `json:"fileName"`
}

// SaveUploadRequest confirms a completed video transfer. AssetID is the
// VideoID issued with the upload target.
type SaveUploadRequest struct {
	MatchID   string `json:"matchId"`
	AssetID   string `json:"assetId"`
	StreamURL string `json:"streamUrl"`
	FileSize  int64  `json:"fileSize"`
}

// Wrestler is a remote roster entry
type Wrestler struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TeamID      string `json:"team_id,omitempty"`
	WeightClass int    `json:"weight_class,omitempty"`
}

// RemoteMatch is a match row as listed or pushed by the remote
type RemoteMatch struct {
	ID           string    `json:"id"`
	WrestlerName string    `json:"wrestler_name"`
	OpponentName string    `json:"opponent_name"`
	WeightClass  int       `json:"weight_class"`
	ScoreFor     int       `json:"final_score_for"`
	ScoreAgainst int       `json:"final_score_against"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MatchFilter narrows ListMatches
type MatchFilter struct {
	Status      string
	WeightClass int
}

// ImportItem is one classified candidate in an import batch
type ImportItem struct {
	Candidate models.ImportCandidate `json:"candidate"`
	Outcome   models.DedupOutcome    `json:"outcome"`
	LinkedID  string                 `json:"linked_id,omitempty"`
}

// ImportBatch is a set of records scraped by the browser extension
type ImportBatch struct {
	Source string       `json:"source,omitempty"`
	Items  []ImportItem `json:"items"`
}

// ImportResult reports what the remote did with one item
type ImportResult struct {
	Index   int                 `json:"index"`
	Outcome models.DedupOutcome `json:"outcome"`
	ID      string              `json:"id,omitempty"`
}

// ImportAck is the remote's answer to an import batch
type ImportAck struct {
	Results []ImportResult `json:"results"`
}

// Client defines the interface for remote store operations. Every mutating
// call takes the idempotency key of the queued operation it replays.
type Client interface {
	// Ping checks that the remote is reachable
	Ping(ctx context.Context) error
	// CreateMatch inserts a match row and returns the remote id
	CreateMatch(ctx context.Context, key string, m MatchPayload) (*MatchAck, error)
	// PatchMatch replaces the full state of a match row
	PatchMatch(ctx context.Context, key, id string, m MatchPayload) (*MatchAck, error)
	// AppendEvents adds scoring events to a match
	AppendEvents(ctx context.Context, key, matchID string, events []EventPayload) (*EventsAck, error)
	// RequestUploadURL issues a video upload destination
	RequestUploadURL(ctx context.Context, key, matchID, fileName string) (*UploadTarget, error)
	// SaveUpload confirms a completed video transfer
	SaveUpload(ctx context.Context, key string, req SaveUploadRequest) error
	// ListWrestlers returns the remote roster
	ListWrestlers(ctx context.Context) ([]Wrestler, error)
	// ListMatches returns remote match rows
	ListMatches(ctx context.Context, filter MatchFilter) ([]RemoteMatch, error)
	// ImportBatch submits classified extension records
	ImportBatch(ctx context.Context, key string, batch ImportBatch) (*ImportAck, error)
	// BaseURL returns the configured remote base URL
	BaseURL() string
	// SetBaseURL updates the remote base URL
	SetBaseURL(url string)
	// SetToken updates the API token
	SetToken(token string)
}
