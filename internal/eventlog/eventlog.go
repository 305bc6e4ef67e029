// Package eventlog holds the append-only scoring log of a match and the pure
// fold that turns it into a score.
package eventlog

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

// Log is the ordered list of scoring events for one match. Entries are only
// ever appended; there is no edit or delete path.
type Log struct {
	matchID string
	entries []models.ScoringEvent
}

// New returns a log for matchID seeded with previously persisted events.
// The existing events must carry contiguous sequence numbers starting at 1.
func New(matchID string, existing []models.ScoringEvent) (*Log, error) {
	sorted := append([]models.ScoringEvent(nil), existing...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for i, e := range sorted {
		if e.Seq != i+1 {
			return nil, errors.Internalf("event log for %s has gap at seq %d (found %d)", matchID, i+1, e.Seq)
		}
		if e.MatchID != matchID {
			return nil, errors.Internalf("event %s belongs to match %s, not %s", e.ID, e.MatchID, matchID)
		}
	}
	return &Log{matchID: matchID, entries: sorted}, nil
}

// MatchID returns the match the log belongs to.
func (l *Log) MatchID() string { return l.matchID }

// Append assigns the next sequence number to e and records it.
func (l *Log) Append(e models.ScoringEvent) (models.ScoringEvent, error) {
	if e.MatchID == "" {
		e.MatchID = l.matchID
	}
	if e.MatchID != l.matchID {
		return models.ScoringEvent{}, errors.Validationf("event for match %s appended to log of %s", e.MatchID, l.matchID)
	}
	if !e.Actor.Valid() {
		return models.ScoringEvent{}, errors.Validationf("invalid actor %q", e.Actor)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Credited == "" {
		e.Credited = e.Actor
	}
	e.Seq = l.LastSeq() + 1
	l.entries = append(l.entries, e)
	return e, nil
}

// Entries returns a copy of every event in sequence order.
func (l *Log) Entries() []models.ScoringEvent {
	return append([]models.ScoringEvent(nil), l.entries...)
}

// EventsSince returns the events with a sequence number greater than seq.
func (l *Log) EventsSince(seq int) []models.ScoringEvent {
	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.entries) {
		return nil
	}
	return append([]models.ScoringEvent(nil), l.entries[seq:]...)
}

// LastSeq returns the sequence number of the newest event, or 0.
func (l *Log) LastSeq() int { return len(l.entries) }

// Len returns the number of events in the log.
func (l *Log) Len() int { return len(l.entries) }

// Rebind moves the log to a new match id, rewriting the match reference on
// every entry. Used only when a temporary id is replaced by the remote id.
func (l *Log) Rebind(matchID string) {
	l.matchID = matchID
	for i := range l.entries {
		l.entries[i].MatchID = matchID
	}
}

// Score is the result of folding a log
type Score struct {
	Total    models.ScorePair
	ByPeriod map[int]models.ScorePair
}

// Periods returns the per-period scores in period order.
func (s Score) Periods() []int {
	periods := make([]int, 0, len(s.ByPeriod))
	for p := range s.ByPeriod {
		periods = append(periods, p)
	}
	sort.Ints(periods)
	return periods
}

// ReconstructScore folds events into per-participant, per-period totals.
// It is the only way a score is ever derived.
func ReconstructScore(events []models.ScoringEvent) Score {
	s := Score{ByPeriod: make(map[int]models.ScorePair)}
	for _, e := range events {
		credited := e.Credited
		if credited == "" {
			credited = e.Actor
		}
		s.Total = s.Total.Add(credited, e.Points)
		s.ByPeriod[e.Period] = s.ByPeriod[e.Period].Add(credited, e.Points)
	}
	return s
}

// ParticipantStats counts scoring actions for one side
type ParticipantStats struct {
	Takedowns  int `json:"takedowns"`
	Escapes    int `json:"escapes"`
	Reversals  int `json:"reversals"`
	NearFalls  int `json:"near_falls"`
	Penalties  int `json:"penalties"`
	Stalls     int `json:"stalls"`
	Cautions   int `json:"cautions"`
	RidingTime int `json:"riding_time"`
	Points     int `json:"points"`
}

// Stats is the per-participant breakdown derived from a log
type Stats struct {
	Wrestler ParticipantStats `json:"wrestler"`
	Opponent ParticipantStats `json:"opponent"`
}

func (s *Stats) side(p models.Participant) *ParticipantStats {
	if p == models.Opponent {
		return &s.Opponent
	}
	return &s.Wrestler
}

// ComputeStats derives action counts by actor and points by credited side.
func ComputeStats(events []models.ScoringEvent) Stats {
	var st Stats
	for _, e := range events {
		actor := st.side(e.Actor)
		switch e.Action {
		case models.ActionTakedown:
			actor.Takedowns++
		case models.ActionEscape:
			actor.Escapes++
		case models.ActionReversal:
			actor.Reversals++
		case models.ActionNearFall2, models.ActionNearFall3, models.ActionNearFall4:
			actor.NearFalls++
		case models.ActionPenalty:
			actor.Penalties++
		case models.ActionStalling:
			actor.Stalls++
		case models.ActionCaution:
			actor.Cautions++
		case models.ActionRidingTime:
			actor.RidingTime++
		}
		credited := e.Credited
		if credited == "" {
			credited = e.Actor
		}
		st.side(credited).Points += e.Points
	}
	return st
}

// Verify checks that a reported total agrees with the log.
func Verify(events []models.ScoringEvent, reported models.ScorePair) error {
	got := ReconstructScore(events).Total
	if got != reported {
		return errors.Conflict(fmt.Sprintf("score %d-%d does not match event log %d-%d",
			reported.For, reported.Against, got.For, got.Against))
	}
	return nil
}
