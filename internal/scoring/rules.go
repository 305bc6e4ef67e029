package scoring

import (
	"fmt"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

// Quantum is the clock resolution. Ticks are idempotent within a quantum.
const Quantum = 100 * time.Millisecond

// ClockPolicy controls what blood and injury time do to the match clock
type ClockPolicy string

const (
	// ClockAdvisory keeps the clock running; the flags are informational.
	ClockAdvisory ClockPolicy = "advisory"
	// ClockPause holds the clock while either flag is set.
	ClockPause ClockPolicy = "pause"
)

type periodKind int

const (
	regulation periodKind = iota
	suddenVictory
	tiebreak
)

var overtimeSequence = []struct {
	label string
	kind  periodKind
}{
	{"SV-1", suddenVictory},
	{"TB-1", tiebreak},
	{"TB-2", tiebreak},
	{"SV-2", suddenVictory},
	{"UTB", tiebreak},
}

// Rules are the tunable scoring and clock parameters
type Rules struct {
	RegulationPeriods    int         `yaml:"regulation_periods" json:"regulation_periods"`
	PeriodSeconds        int         `yaml:"period_seconds" json:"period_seconds"`
	SuddenVictorySeconds int         `yaml:"sudden_victory_seconds" json:"sudden_victory_seconds"`
	TiebreakSeconds      int         `yaml:"tiebreak_seconds" json:"tiebreak_seconds"`
	TechFallMargin       int         `yaml:"tech_fall_margin" json:"tech_fall_margin"`
	MajorMargin          int         `yaml:"major_margin" json:"major_margin"`
	StallingWarnings     int         `yaml:"stalling_warnings" json:"stalling_warnings"`
	ClockPolicy          ClockPolicy `yaml:"clock_policy" json:"clock_policy"`
}

// DefaultRules returns folkstyle defaults: three 2:00 periods, 1:00 sudden
// victory, 0:30 tiebreaks.
func DefaultRules() Rules {
	return Rules{
		RegulationPeriods:    3,
		PeriodSeconds:        120,
		SuddenVictorySeconds: 60,
		TiebreakSeconds:      30,
		TechFallMargin:       15,
		MajorMargin:          8,
		StallingWarnings:     1,
		ClockPolicy:          ClockAdvisory,
	}
}

// Validate rejects rule sets the state machine cannot run with.
func (r Rules) Validate() error {
	if r.RegulationPeriods < 1 {
		return errors.Validation("regulation_periods must be at least 1")
	}
	if r.PeriodSeconds <= 0 || r.SuddenVictorySeconds <= 0 || r.TiebreakSeconds <= 0 {
		return errors.Validation("period durations must be positive")
	}
	if r.MajorMargin <= 0 || r.TechFallMargin <= r.MajorMargin {
		return errors.Validationf("tech_fall_margin (%d) must exceed major_margin (%d)", r.TechFallMargin, r.MajorMargin)
	}
	if r.StallingWarnings < 0 {
		return errors.Validation("stalling_warnings must not be negative")
	}
	switch r.ClockPolicy {
	case ClockAdvisory, ClockPause:
	default:
		return errors.Validationf("unknown clock_policy %q", r.ClockPolicy)
	}
	return nil
}

// PeriodCount is the total number of periods including overtime.
func (r Rules) PeriodCount() int {
	return r.RegulationPeriods + len(overtimeSequence)
}

func (r Rules) kind(period int) periodKind {
	if period <= r.RegulationPeriods {
		return regulation
	}
	return overtimeSequence[period-r.RegulationPeriods-1].kind
}

// PeriodLabel names a period: P1..Pn for regulation, then SV-1, TB-1, TB-2,
// SV-2, UTB.
func (r Rules) PeriodLabel(period int) string {
	if period < 1 || period > r.PeriodCount() {
		return ""
	}
	if period <= r.RegulationPeriods {
		return fmt.Sprintf("P%d", period)
	}
	return overtimeSequence[period-r.RegulationPeriods-1].label
}

// PeriodDuration returns the clock length of the given period.
func (r Rules) PeriodDuration(period int) time.Duration {
	if period < 1 || period > r.PeriodCount() {
		return 0
	}
	switch r.kind(period) {
	case suddenVictory:
		return time.Duration(r.SuddenVictorySeconds) * time.Second
	case tiebreak:
		return time.Duration(r.TiebreakSeconds) * time.Second
	default:
		return time.Duration(r.PeriodSeconds) * time.Second
	}
}

// SuggestWinType is the advisory win type for a score: tech fall at the
// tech-fall margin or above, major at the major margin up to it, decision
// otherwise. It never ends a match.
func (r Rules) SuggestWinType(score models.ScorePair) models.EndReason {
	diff := score.Diff()
	switch {
	case diff >= r.TechFallMargin:
		return models.EndTechFall
	case diff >= r.MajorMargin:
		return models.EndMajor
	default:
		return models.EndDecision
	}
}

type pointRule struct {
	points         int
	creditOpponent bool
}

var pointTable = map[models.Action]pointRule{
	models.ActionTakedown:   {2, false},
	models.ActionEscape:     {1, false},
	models.ActionReversal:   {2, false},
	models.ActionNearFall2:  {2, false},
	models.ActionNearFall3:  {3, false},
	models.ActionNearFall4:  {4, false},
	models.ActionPenalty:    {1, true},
	models.ActionStalling:   {1, true},
	models.ActionCaution:    {0, true},
	models.ActionRidingTime: {1, false},
	models.ActionPin:        {0, false},
}

// Points returns the fixed value of an action and who it is credited to.
func Points(action models.Action, actor models.Participant) (int, models.Participant, bool) {
	rule, ok := pointTable[action]
	if !ok {
		return 0, "", false
	}
	if rule.creditOpponent {
		return rule.points, actor.Other(), true
	}
	return rule.points, actor, true
}
