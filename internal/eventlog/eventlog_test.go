package eventlog

import (
	"math/rand"
	"testing"

	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

func ev(actor models.Participant, action models.Action, points int, period int) models.ScoringEvent {
	return models.ScoringEvent{Actor: actor, Action: action, Points: points, Period: period}
}

func TestAppend_AssignsMonotonicSeq(t *testing.T) {
	log, err := New("m1", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 1; i <= 3; i++ {
		got, err := log.Append(ev(models.Wrestler, models.ActionTakedown, 2, 1))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if got.Seq != i {
			t.Errorf("seq = %d, want %d", got.Seq, i)
		}
		if got.ID == "" {
			t.Error("expected generated id")
		}
		if got.MatchID != "m1" {
			t.Errorf("match id = %q", got.MatchID)
		}
	}
	if log.LastSeq() != 3 || log.Len() != 3 {
		t.Errorf("LastSeq=%d Len=%d", log.LastSeq(), log.Len())
	}
}

func TestAppend_RejectsForeignMatchAndBadActor(t *testing.T) {
	log, _ := New("m1", nil)

	_, err := log.Append(models.ScoringEvent{MatchID: "other", Actor: models.Wrestler})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	_, err = log.Append(models.ScoringEvent{Actor: "referee"})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if log.Len() != 0 {
		t.Error("rejected events must not be recorded")
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	log, _ := New("m1", nil)
	log.Append(ev(models.Wrestler, models.ActionEscape, 1, 1))

	entries := log.Entries()
	entries[0].Points = 99

	if log.Entries()[0].Points != 1 {
		t.Error("mutating the returned slice must not change the log")
	}
}

func TestNew_RejectsGaps(t *testing.T) {
	existing := []models.ScoringEvent{
		{ID: "a", MatchID: "m1", Seq: 1},
		{ID: "b", MatchID: "m1", Seq: 3},
	}
	if _, err := New("m1", existing); err == nil {
		t.Error("expected gap error")
	}
}

func TestNew_SortsBySeq(t *testing.T) {
	existing := []models.ScoringEvent{
		{ID: "b", MatchID: "m1", Seq: 2, Actor: models.Opponent},
		{ID: "a", MatchID: "m1", Seq: 1, Actor: models.Wrestler},
	}
	log, err := New("m1", existing)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if log.Entries()[0].ID != "a" {
		t.Error("expected entries ordered by seq")
	}
	next, _ := log.Append(ev(models.Wrestler, models.ActionTakedown, 2, 1))
	if next.Seq != 3 {
		t.Errorf("seq = %d, want 3", next.Seq)
	}
}

func TestEventsSince(t *testing.T) {
	log, _ := New("m1", nil)
	for i := 0; i < 5; i++ {
		log.Append(ev(models.Wrestler, models.ActionEscape, 1, 1))
	}

	tests := []struct {
		since int
		want  int
	}{
		{0, 5}, {-1, 5}, {2, 3}, {5, 0}, {9, 0},
	}
	for _, tt := range tests {
		got := log.EventsSince(tt.since)
		if len(got) != tt.want {
			t.Errorf("EventsSince(%d) len = %d, want %d", tt.since, len(got), tt.want)
		}
		if len(got) > 0 && got[0].Seq != tt.since+1 && tt.since >= 0 {
			t.Errorf("EventsSince(%d) first seq = %d", tt.since, got[0].Seq)
		}
	}
}

func TestReconstructScore_CreditsAndPeriods(t *testing.T) {
	events := []models.ScoringEvent{
		{Actor: models.Wrestler, Credited: models.Wrestler, Points: 2, Period: 1},
		{Actor: models.Opponent, Credited: models.Opponent, Points: 1, Period: 2},
		// penalty by the wrestler credits the opponent
		{Actor: models.Wrestler, Credited: models.Opponent, Points: 1, Period: 2},
		{Actor: models.Wrestler, Points: 3, Period: 3},
	}

	s := ReconstructScore(events)
	if s.Total != (models.ScorePair{For: 5, Against: 2}) {
		t.Errorf("total = %+v", s.Total)
	}
	if s.ByPeriod[2] != (models.ScorePair{For: 0, Against: 2}) {
		t.Errorf("period 2 = %+v", s.ByPeriod[2])
	}
	periods := s.Periods()
	if len(periods) != 3 || periods[0] != 1 || periods[2] != 3 {
		t.Errorf("periods = %v", periods)
	}
}

func TestReconstructScore_Empty(t *testing.T) {
	s := ReconstructScore(nil)
	if s.Total != (models.ScorePair{}) {
		t.Errorf("total = %+v", s.Total)
	}
}

// The fold over any random sequence of events equals the running total
// maintained alongside it.
func TestReconstructScore_NoDriftRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	actions := []struct {
		action   models.Action
		points   int
		opponent bool
	}{
		{models.ActionTakedown, 2, false},
		{models.ActionEscape, 1, false},
		{models.ActionReversal, 2, false},
		{models.ActionNearFall2, 2, false},
		{models.ActionNearFall3, 3, false},
		{models.ActionNearFall4, 4, false},
		{models.ActionPenalty, 1, true},
		{models.ActionStalling, 1, true},
		{models.ActionCaution, 0, false},
	}

	for run := 0; run < 200; run++ {
		log, _ := New("m1", nil)
		var running models.ScorePair
		n := rng.Intn(60)
		for i := 0; i < n; i++ {
			a := actions[rng.Intn(len(actions))]
			actor := models.Wrestler
			if rng.Intn(2) == 1 {
				actor = models.Opponent
			}
			credited := actor
			if a.opponent {
				credited = actor.Other()
			}
			if _, err := log.Append(models.ScoringEvent{
				Actor: actor, Action: a.action, Points: a.points,
				Credited: credited, Period: 1 + rng.Intn(3),
			}); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			running = running.Add(credited, a.points)

			if got := ReconstructScore(log.Entries()).Total; got != running {
				t.Fatalf("run %d step %d: fold %+v != running %+v", run, i, got, running)
			}
		}
		if err := Verify(log.Entries(), running); err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
	}
}

func TestVerify_Mismatch(t *testing.T) {
	events := []models.ScoringEvent{{Actor: models.Wrestler, Points: 2}}
	err := Verify(events, models.ScorePair{For: 3})
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestComputeStats(t *testing.T) {
	events := []models.ScoringEvent{
		{Actor: models.Wrestler, Action: models.ActionTakedown, Points: 2, Credited: models.Wrestler},
		{Actor: models.Wrestler, Action: models.ActionNearFall3, Points: 3, Credited: models.Wrestler},
		{Actor: models.Opponent, Action: models.ActionEscape, Points: 1, Credited: models.Opponent},
		{Actor: models.Opponent, Action: models.ActionPenalty, Points: 1, Credited: models.Wrestler},
	}

	st := ComputeStats(events)
	if st.Wrestler.Takedowns != 1 || st.Wrestler.NearFalls != 1 || st.Wrestler.Points != 6 {
		t.Errorf("wrestler stats = %+v", st.Wrestler)
	}
	if st.Opponent.Escapes != 1 || st.Opponent.Penalties != 1 || st.Opponent.Points != 1 {
		t.Errorf("opponent stats = %+v", st.Opponent)
	}
}

func TestRebind(t *testing.T) {
	log, _ := New("tmp-1", nil)
	log.Append(ev(models.Wrestler, models.ActionTakedown, 2, 1))
	log.Rebind("r-1")

	if log.MatchID() != "r-1" || log.Entries()[0].MatchID != "r-1" {
		t.Error("expected entries rebound to new id")
	}
	if _, err := log.Append(ev(models.Opponent, models.ActionEscape, 1, 1)); err != nil {
		t.Errorf("Append() after rebind error = %v", err)
	}
}
