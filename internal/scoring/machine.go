// Package scoring implements the match state machine: period clock, point
// table and end-of-match rules. A Machine is not safe for concurrent use; the
// owning service serializes access per match.
package scoring

import (
	"fmt"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/eventlog"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

// State is a match state
type State string

const (
	StateSetup          State = "setup"
	StatePeriodRunning  State = "period_running"
	StatePeriodPaused   State = "period_paused"
	StatePeriodComplete State = "period_complete"
	StateEnded          State = "ended"
)

// Trigger is an input to the state machine
type Trigger string

const (
	TriggerStart   Trigger = "start_period"
	TriggerPause   Trigger = "pause"
	TriggerResume  Trigger = "resume"
	TriggerExpire  Trigger = "clock_expired"
	TriggerAdvance Trigger = "advance"
	TriggerScore   Trigger = "score"
	TriggerFlag    Trigger = "flag"
	TriggerEnd     Trigger = "end"
)

var transitions = map[State]map[Trigger]State{
	StateSetup: {
		TriggerStart: StatePeriodRunning,
		TriggerEnd:   StateEnded,
	},
	StatePeriodRunning: {
		TriggerPause:  StatePeriodPaused,
		TriggerExpire: StatePeriodComplete,
		TriggerScore:  StatePeriodRunning,
		TriggerFlag:   StatePeriodRunning,
		TriggerEnd:    StateEnded,
	},
	StatePeriodPaused: {
		TriggerResume: StatePeriodRunning,
		TriggerScore:  StatePeriodPaused,
		TriggerFlag:   StatePeriodPaused,
		TriggerEnd:    StateEnded,
	},
	StatePeriodComplete: {
		TriggerStart:   StatePeriodRunning,
		TriggerAdvance: StatePeriodComplete,
		TriggerScore:   StatePeriodComplete,
		TriggerEnd:     StateEnded,
	},
}

// Sentinel errors for rejected operator input
var (
	ErrUnknownAction   = errors.Validation("unknown scoring action")
	ErrPinTimeRequired = errors.Validation("pin time is required when the match ends by pin")
	ErrInvalidWinner   = errors.Validation("winner must be one of the two participants")
	ErrInvalidReason   = errors.Validation("unknown end reason")
	ErrLastPeriod      = errors.InvalidTransition("final period", string(TriggerAdvance))
)

// TickResult reports what a tick did to the clock
type TickResult struct {
	Remaining   time.Duration
	Changed     bool
	PeriodEnded bool
}

// Machine drives one match
type Machine struct {
	rules    Rules
	match    models.Match
	log      *eventlog.Log
	state    State
	clock    time.Duration
	lastTick time.Time
}

// New creates a machine for a freshly set up match.
func New(rules Rules, m models.Match) (*Machine, error) {
	if m.ID == "" {
		return nil, errors.Validation("match id is required")
	}
	if m.WrestlerID == "" || m.OpponentID == "" {
		return nil, errors.Validation("both participants are required")
	}
	if m.WrestlerID == m.OpponentID {
		return nil, errors.Validation("participants must be distinct")
	}
	if m.MatchType == "" {
		m.MatchType = models.MatchDual
	}
	if !m.MatchType.Valid() {
		return nil, errors.Validationf("unknown match type %q", m.MatchType)
	}

	log, _ := eventlog.New(m.ID, nil)
	m.Period = 1
	m.Status = models.StatusSetup
	m.Score = models.ScorePair{}
	m.StallingWarnings = map[models.Participant]int{}

	mc := &Machine{
		rules: rules,
		match: m,
		log:   log,
		state: StateSetup,
		clock: rules.PeriodDuration(1),
	}
	mc.recompute()
	mc.sync()
	return mc, nil
}

// Restore rebuilds a machine from a persisted snapshot and its event log.
// A match that was running when the snapshot was taken comes back paused.
func Restore(rules Rules, m models.Match, events []models.ScoringEvent) (*Machine, error) {
	log, err := eventlog.New(m.ID, events)
	if err != nil {
		return nil, err
	}
	state := State(m.State)
	if _, ok := transitions[state]; !ok && state != StateEnded {
		return nil, errors.Internalf("match %s has unknown state %q", m.ID, m.State)
	}
	if state == StatePeriodRunning {
		state = StatePeriodPaused
	}
	if m.StallingWarnings == nil {
		m.StallingWarnings = map[models.Participant]int{}
	}
	if m.Period < 1 {
		m.Period = 1
	}

	mc := &Machine{
		rules: rules,
		match: m,
		log:   log,
		state: state,
		clock: time.Duration(m.ClockMS) * time.Millisecond,
	}
	mc.recompute()
	mc.sync()
	return mc, nil
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// ID returns the match id.
func (m *Machine) ID() string { return m.match.ID }

// Rules returns the rules the machine runs with.
func (m *Machine) Rules() Rules { return m.rules }

// Clock returns the time remaining in the current period.
func (m *Machine) Clock() time.Duration { return m.clock }

// Log exposes the event log for incremental reads.
func (m *Machine) Log() *eventlog.Log { return m.log }

// Events returns a copy of the event log.
func (m *Machine) Events() []models.ScoringEvent { return m.log.Entries() }

// Snapshot returns a copy of the match as it stands.
func (m *Machine) Snapshot() models.Match { return m.match.Clone() }

// can reports the target state for trigger, or an InvalidTransition error.
func (m *Machine) can(t Trigger) (State, error) {
	next, ok := transitions[m.state][t]
	if !ok {
		return "", errors.InvalidTransition(string(m.state), string(t))
	}
	return next, nil
}

// StartPeriod starts the clock for the current period.
func (m *Machine) StartPeriod(now time.Time) error {
	next, err := m.can(TriggerStart)
	if err != nil {
		return err
	}
	if m.state == StatePeriodComplete && !m.match.AwaitingStart {
		return errors.InvalidTransition(string(m.state), "start_period before advance")
	}
	m.state = next
	m.clock = m.rules.PeriodDuration(m.match.Period)
	m.lastTick = now
	m.match.AwaitingStart = false
	if m.match.StartedAt == nil {
		t := now
		m.match.StartedAt = &t
	}
	m.touch(now)
	return nil
}

// Pause stops the clock. Elapsed time up to now is applied first.
func (m *Machine) Pause(now time.Time) error {
	if _, err := m.can(TriggerPause); err != nil {
		return err
	}
	if res := m.Tick(now); res.PeriodEnded {
		return nil
	}
	m.state = StatePeriodPaused
	m.touch(now)
	return nil
}

// Resume restarts the clock.
func (m *Machine) Resume(now time.Time) error {
	next, err := m.can(TriggerResume)
	if err != nil {
		return err
	}
	m.state = next
	m.lastTick = now
	m.touch(now)
	return nil
}

// Tick advances the clock by the whole quanta elapsed since the last tick.
// A second tick inside the same quantum changes nothing. When the clock
// reaches zero the period completes; the next period is never started here.
func (m *Machine) Tick(now time.Time) TickResult {
	res := TickResult{Remaining: m.clock}
	if m.state != StatePeriodRunning {
		return res
	}
	elapsed := now.Sub(m.lastTick)
	quanta := elapsed / Quantum
	if quanta <= 0 {
		return res
	}
	step := quanta * Quantum
	m.lastTick = m.lastTick.Add(step)

	if m.rules.ClockPolicy == ClockPause && (m.match.BloodTime || m.match.InjuryTime) {
		return res
	}

	m.clock -= step
	res.Changed = true
	if m.clock <= 0 {
		m.clock = 0
		m.state = StatePeriodComplete
		res.PeriodEnded = true
		m.touch(now)
	} else {
		m.match.ClockMS = m.clock.Milliseconds()
	}
	res.Remaining = m.clock
	return res
}

// Advance moves a completed period to the next one in the sequence.
func (m *Machine) Advance(now time.Time) error {
	if _, err := m.can(TriggerAdvance); err != nil {
		return err
	}
	if m.match.AwaitingStart {
		return errors.InvalidTransition(string(m.state), "advance twice")
	}
	if m.match.Period >= m.rules.PeriodCount() {
		return ErrLastPeriod
	}
	m.match.Period++
	m.match.AwaitingStart = true
	m.clock = m.rules.PeriodDuration(m.match.Period)
	m.recompute()
	m.touch(now)
	return nil
}

// Score records a scoring action and returns the appended event. The match
// is never ended here, whatever the score difference.
func (m *Machine) Score(actor models.Participant, action models.Action, at time.Time, videoOffset time.Duration) (models.ScoringEvent, error) {
	if !actor.Valid() {
		return models.ScoringEvent{}, errors.Validationf("invalid actor %q", actor)
	}
	points, credited, ok := Points(action, actor)
	if !ok {
		return models.ScoringEvent{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if _, err := m.can(TriggerScore); err != nil {
		return models.ScoringEvent{}, err
	}

	ev := models.ScoringEvent{
		MatchID:     m.match.ID,
		Timestamp:   at,
		VideoOffset: videoOffset,
		Actor:       actor,
		Action:      action,
		Points:      points,
		Credited:    credited,
		Period:      m.match.Period,
	}
	warned := false
	if action == models.ActionStalling && m.match.StallingWarnings[actor] < m.rules.StallingWarnings {
		ev.Points = 0
		ev.Warning = true
		warned = true
	}

	appended, err := m.log.Append(ev)
	if err != nil {
		return models.ScoringEvent{}, err
	}
	if warned {
		m.match.StallingWarnings[actor]++
	}
	m.recompute()
	m.touch(at)
	return appended, nil
}

// SetBloodTime toggles the blood-time flag.
func (m *Machine) SetBloodTime(on bool, now time.Time) error {
	if _, err := m.can(TriggerFlag); err != nil {
		return err
	}
	m.Tick(now)
	m.match.BloodTime = on
	m.touch(now)
	return nil
}

// SetInjuryTime toggles the injury-time flag.
func (m *Machine) SetInjuryTime(on bool, now time.Time) error {
	if _, err := m.can(TriggerFlag); err != nil {
		return err
	}
	m.Tick(now)
	m.match.InjuryTime = on
	m.touch(now)
	return nil
}

// End freezes the match with a result.
func (m *Machine) End(reason models.EndReason, winnerID string, pinTime *time.Duration, now time.Time) error {
	next, err := m.can(TriggerEnd)
	if err != nil {
		return err
	}
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	if reason == models.EndPin && pinTime == nil {
		return ErrPinTimeRequired
	}
	if _, ok := m.match.ParticipantOf(winnerID); !ok {
		return ErrInvalidWinner
	}

	if m.state == StatePeriodRunning {
		m.Tick(now)
	}
	m.state = next
	m.match.EndReason = reason
	m.match.WinnerID = winnerID
	m.match.PinTime = nil
	if reason == models.EndPin {
		pt := *pinTime
		m.match.PinTime = &pt
	}
	m.match.BloodTime = false
	m.match.InjuryTime = false
	m.match.AwaitingStart = false
	ended := now
	m.match.EndedAt = &ended
	m.touch(now)
	return nil
}

// ElapsedMatchTime is the wrestled time across completed periods plus the
// running one.
func (m *Machine) ElapsedMatchTime() time.Duration {
	var total time.Duration
	for p := 1; p < m.match.Period; p++ {
		total += m.rules.PeriodDuration(p)
	}
	if m.state != StateSetup && !m.match.AwaitingStart {
		total += m.rules.PeriodDuration(m.match.Period) - m.clock
	}
	return total
}

// Rebind moves the match and its log to a new id.
func (m *Machine) Rebind(newID string) {
	m.match.ID = newID
	m.match.RemoteID = newID
	m.log.Rebind(newID)
}

// ApplyRemoteScore records the latest remote aggregate. Score itself still
// comes from the local log.
func (m *Machine) ApplyRemoteScore(score models.ScorePair, updatedAt time.Time) bool {
	if m.match.RemoteUpdatedAt != nil && !updatedAt.After(*m.match.RemoteUpdatedAt) {
		return false
	}
	s := score
	t := updatedAt
	m.match.RemoteScore = &s
	m.match.RemoteUpdatedAt = &t
	return true
}

func (m *Machine) recompute() {
	score := eventlog.ReconstructScore(m.log.Entries())
	m.match.Score = score.Total

	last := m.match.Period
	for _, p := range score.Periods() {
		if p > last {
			last = p
		}
	}
	periods := make([]models.PeriodScore, 0, last)
	for p := 1; p <= last; p++ {
		periods = append(periods, models.PeriodScore{
			Period: p,
			Label:  m.rules.PeriodLabel(p),
			Score:  score.ByPeriod[p],
		})
	}
	m.match.PeriodScores = periods
	m.match.SuggestedWinType = m.rules.SuggestWinType(score.Total)
}

func (m *Machine) touch(now time.Time) {
	m.match.UpdatedAt = now
	m.match.Version++
	m.sync()
}

func (m *Machine) sync() {
	m.match.State = string(m.state)
	m.match.ClockMS = m.clock.Milliseconds()
	m.match.PeriodLabel = m.rules.PeriodLabel(m.match.Period)
	switch m.state {
	case StateSetup:
		m.match.Status = models.StatusSetup
	case StateEnded:
		m.match.Status = models.StatusEnded
	default:
		m.match.Status = models.StatusInProgress
	}
}
