package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Participant identifies one side of a match from the scoring device's view.
// "wrestler" is the home athlete the device is scoring for.
type Participant string

const (
	Wrestler Participant = "wrestler"
	Opponent Participant = "opponent"
)

// Valid reports whether p is one of the two participants.
func (p Participant) Valid() bool {
	return p == Wrestler || p == Opponent
}

// Other returns the opposing participant.
func (p Participant) Other() Participant {
	if p == Wrestler {
		return Opponent
	}
	return Wrestler
}

// MatchStatus is the lifecycle status persisted on a match row
type MatchStatus string

const (
	StatusSetup      MatchStatus = "setup"
	StatusInProgress MatchStatus = "in_progress"
	StatusEnded      MatchStatus = "ended"
)

// MatchType classifies the event a match belongs to
type MatchType string

const (
	MatchDual       MatchType = "dual"
	MatchTournament MatchType = "tournament"
	MatchExhibition MatchType = "exhibition"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	switch t {
	case MatchDual, MatchTournament, MatchExhibition:
		return true
	}
	return false
}

// EndReason is how a match was decided. The advisory win-type suggestion uses
// the same values.
type EndReason string

const (
	EndPin      EndReason = "pin"
	EndTechFall EndReason = "tech_fall"
	EndMajor    EndReason = "major"
	EndDecision EndReason = "decision"
	EndForfeit  EndReason = "forfeit"
	EndInjury   EndReason = "injury"
	EndDQ       EndReason = "dq"
	EndDefault  EndReason = "default"
)

// Valid reports whether r is a known end reason.
func (r EndReason) Valid() bool {
	switch r {
	case EndPin, EndTechFall, EndMajor, EndDecision, EndForfeit, EndInjury, EndDQ, EndDefault:
		return true
	}
	return false
}

// ScorePair is a (wrestler, opponent) point pair
type ScorePair struct {
	For     int `json:"for"`
	Against int `json:"against"`
}

// Get returns the points belonging to p.
func (s ScorePair) Get(p Participant) int {
	if p == Opponent {
		return s.Against
	}
	return s.For
}

// Add returns a copy of s with n points credited to p.
func (s ScorePair) Add(p Participant, n int) ScorePair {
	if p == Opponent {
		s.Against += n
	} else {
		s.For += n
	}
	return s
}

// Diff returns the absolute score difference.
func (s ScorePair) Diff() int {
	d := s.For - s.Against
	if d < 0 {
		return -d
	}
	return d
}

// PeriodScore is the score earned during a single period
type PeriodScore struct {
	Period int       `json:"period"`
	Label  string    `json:"label"`
	Score  ScorePair `json:"score"`
}

// TempIDPrefix marks a match id assigned on-device before the remote
// store has issued one.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id is an on-device match id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Match is a single bout between the wrestler and an opponent
type Match struct {
	ID           string        `json:"id"`
	RemoteID     string        `json:"remote_id,omitempty"`
	TeamID       string        `json:"team_id,omitempty"`
	WrestlerID   string        `json:"wrestler_id"`
	WrestlerName string        `json:"wrestler_name"`
	OpponentID   string        `json:"opponent_id"`
	OpponentName string        `json:"opponent_name"`
	WeightClass  int           `json:"weight_class"`
	MatchType    MatchType     `json:"match_type"`
	Period       int           `json:"period"`
	PeriodLabel  string        `json:"period_label"`
	State        string        `json:"state"`
	ClockMS      int64         `json:"clock_ms"`
	PeriodScores []PeriodScore `json:"period_scores"`
	Score        ScorePair     `json:"score"`
	Status       MatchStatus   `json:"status"`
	EndReason    EndReason     `json:"end_reason,omitempty"`
	WinnerID     string        `json:"winner_id,omitempty"`

	// AwaitingStart is set once a completed period has been advanced past.
	AwaitingStart bool `json:"awaiting_start,omitempty"`

	// PinTime is the elapsed match time at the fall.
	PinTime          *time.Duration `json:"pin_time,omitempty"`
	SuggestedWinType EndReason      `json:"suggested_win_type,omitempty"`
	BloodTime        bool           `json:"blood_time"`
	InjuryTime       bool           `json:"injury_time"`

	// StallingWarnings counts warnings per participant before stalling scores.
	StallingWarnings map[Participant]int `json:"stalling_warnings,omitempty"`

	// RemoteScore is the last aggregate score seen on the change channel for
	// this match. It never feeds Score.
	RemoteScore     *ScorePair `json:"remote_score,omitempty"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int        `json:"version"`
}

// FinalScoreFor is the wrestler's cumulative score
func (m *Match) FinalScoreFor() int { return m.Score.For }

// FinalScoreAgainst is the opponent's cumulative score
func (m *Match) FinalScoreAgainst() int { return m.Score.Against }

// WinType is the recorded end reason, or the advisory suggestion while the
// match is still open.
func (m *Match) WinType() EndReason {
	if m.EndReason != "" {
		return m.EndReason
	}
	return m.SuggestedWinType
}

// ParticipantOf maps a wrestler id to the side it wrestles on.
func (m *Match) ParticipantOf(id string) (Participant, bool) {
	switch id {
	case "":
		return "", false
	case m.WrestlerID:
		return Wrestler, true
	case m.OpponentID:
		return Opponent, true
	}
	return "", false
}

// Ended reports whether the match is frozen.
func (m *Match) Ended() bool { return m.Status == StatusEnded }

// Clone returns a deep copy safe to hand to other goroutines.
func (m Match) Clone() Match {
	out := m
	if m.PeriodScores != nil {
		out.PeriodScores = append([]PeriodScore(nil), m.PeriodScores...)
	}
	if m.StallingWarnings != nil {
		out.StallingWarnings = make(map[Participant]int, len(m.StallingWarnings))
		for k, v := range m.StallingWarnings {
			out.StallingWarnings[k] = v
		}
	}
	if m.PinTime != nil {
		pt := *m.PinTime
		out.PinTime = &pt
	}
	if m.RemoteScore != nil {
		rs := *m.RemoteScore
		out.RemoteScore = &rs
	}
	return out
}

// Action is a scoring action entered by the operator
type Action string

const (
	ActionTakedown   Action = "takedown"
	ActionEscape     Action = "escape"
	ActionReversal   Action = "reversal"
	ActionNearFall2  Action = "near_fall_2"
	ActionNearFall3  Action = "near_fall_3"
	ActionNearFall4  Action = "near_fall_4"
	ActionPenalty    Action = "penalty"
	ActionStalling   Action = "stalling"
	ActionCaution    Action = "caution"
	ActionRidingTime Action = "riding_time"
	ActionPin        Action = "pin"
)

// ScoringEvent is one immutable entry in a match's event log
type ScoringEvent struct {
	ID          string        `json:"id"`
	MatchID     string        `json:"match_id"`
	Seq         int           `json:"seq"`
	Timestamp   time.Time     `json:"timestamp"`
	VideoOffset time.Duration `json:"video_offset"`
	Actor       Participant   `json:"actor"`
	Action      Action        `json:"action"`
	Points      int           `json:"points"`
	Credited    Participant   `json:"credited"`
	Period      int           `json:"period"`
	// Warning marks a stalling call that was recorded as a warning only.
	Warning bool `json:"warning,omitempty"`
}

// OpKind is the kind of remote mutation a pending operation replays
type OpKind string

const (
	OpCreateMatch OpKind = "create_match"
	OpAppendEvent OpKind = "append_event"
	OpEndMatch    OpKind = "end_match"
	OpUpdateMatch OpKind = "update_match"
	OpUploadVideo OpKind = "upload_video"
	OpImportBatch OpKind = "import_batch"
)

// OpStatus is the replay status of a pending operation
type OpStatus string

const (
	OpPending  OpStatus = "pending"
	OpInFlight OpStatus = "in_flight"
	OpFailed   OpStatus = "failed"
	OpDone     OpStatus = "done"
)

// PendingOperation is a queued remote mutation. It is removed from the store
// only after the remote acknowledges it.
type PendingOperation struct {
	ID             string          `json:"id"`
	Kind           OpKind          `json:"kind"`
	EntityID       string          `json:"entity_id"`
	MatchID        string          `json:"match_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Attempts       int             `json:"attempts"`
	NextRetryAt    time.Time       `json:"next_retry_at"`
	Status         OpStatus        `json:"status"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// VideoSyncStatus is the coarse upload status shown to the operator
type VideoSyncStatus string

const (
	VideoUnsynced  VideoSyncStatus = "unsynced"
	VideoUploading VideoSyncStatus = "uploading"
	VideoUploaded  VideoSyncStatus = "uploaded"
	VideoSynced    VideoSyncStatus = "synced"
)

// UploadPhase is the last completed phase of the three-phase upload
type UploadPhase string

const (
	PhaseNone        UploadPhase = "none"
	PhaseURLIssued   UploadPhase = "url_issued"
	PhaseTransferred UploadPhase = "transferred"
	PhaseConfirmed   UploadPhase = "confirmed"
)

// VideoAsset is a recorded match video held on-device until uploaded
type VideoAsset struct {
	ID            string          `json:"id"`
	MatchID       string          `json:"match_id"`
	Chunks        []string        `json:"chunks"`
	Size          int64           `json:"size"`
	SyncStatus    VideoSyncStatus `json:"sync_status"`
	Phase         UploadPhase     `json:"phase"`
	UploadURL     string          `json:"upload_url,omitempty"`
	RemoteAssetID string          `json:"remote_asset_id,omitempty"`
	StreamURL     string          `json:"stream_url,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	StoppedAt     *time.Time      `json:"stopped_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RosterWrestler is a roster entry cached locally
type RosterWrestler struct {
	ID          string `json:"id"`
	RemoteID    string `json:"remote_id,omitempty"`
	Name        string `json:"name"`
	TeamID      string `json:"team_id,omitempty"`
	WeightClass int    `json:"weight_class,omitempty"`
}

// DedupOutcome is the classification of an externally sourced record
type DedupOutcome string

const (
	OutcomeMatched     DedupOutcome = "matched"
	OutcomeNeedsReview DedupOutcome = "needs_review"
	OutcomeNew         DedupOutcome = "new"
)

// CandidateMatch is a possible existing record for an imported one
type CandidateMatch struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ImportCandidate is one record scraped by the browser extension
type ImportCandidate struct {
	Kind         string    `json:"kind"` // "wrestler" or "match"
	Source       string    `json:"source,omitempty"`
	Name         string    `json:"name"`
	TeamID       string    `json:"team_id,omitempty"`
	OpponentName string    `json:"opponent_name,omitempty"`
	WeightClass  int       `json:"weight_class,omitempty"`
	ScoreFor     int       `json:"score_for,omitempty"`
	ScoreAgainst int       `json:"score_against,omitempty"`
	WinType      EndReason `json:"win_type,omitempty"`
	Date         string    `json:"date,omitempty"`
}

// ReviewItem is an ambiguous dedup result awaiting operator resolution
type ReviewItem struct {
	ID         string           `json:"id"`
	Kind       string           `json:"kind"`
	Candidate  ImportCandidate  `json:"candidate"`
	TopMatches []CandidateMatch `json:"top_matches"`
	CreatedAt  time.Time        `json:"created_at"`
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string      `json:"type"`
	MatchID   string      `json:"match_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}
