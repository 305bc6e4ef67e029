package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/eventlog"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/metrics"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/realtime"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/scoring"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// ClockInterval is how often RunClock ticks running matches
const ClockInterval = scoring.Quantum

// checkpointEvery is how often a running clock is written to the store
const checkpointEvery = time.Second

// OffsetProvider reports the video offset for a match being recorded
type OffsetProvider interface {
	Offset(matchID string) time.Duration
}

// NewMatch is the operator input for setting up a match
type NewMatch struct {
	TeamID       string           `json:"team_id"`
	WrestlerID   string           `json:"wrestler_id"`
	WrestlerName string           `json:"wrestler_name"`
	OpponentID   string           `json:"opponent_id"`
	OpponentName string           `json:"opponent_name"`
	WeightClass  int              `json:"weight_class"`
	MatchType    models.MatchType `json:"match_type"`
}

// EndMatch is the operator input for ending a match
type EndMatch struct {
	Reason   models.EndReason
	WinnerID string
	PinTime  *time.Duration
}

// ScoreResult is a recorded event and the match it produced
type ScoreResult struct {
	Event models.ScoringEvent `json:"event"`
	Match models.Match        `json:"match"`
}

type session struct {
	mu         sync.Mutex
	machine    *scoring.Machine
	checkpoint time.Time
}

// MatchService owns the scoring machines of every open match. Each match is
// guarded by its own mutex, held only around the in-memory mutation and the
// local write; nothing here waits on the network.
type MatchService struct {
	log     logger.Logger
	repo    repository.FullRepository
	queue   *syncqueue.Queue
	bus     *bus.Bus
	metrics *metrics.Recorder
	offsets OffsetProvider
	rules   scoring.Rules
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	aliases  map[string]string
}

// NewMatchService creates a new MatchService
func NewMatchService(log logger.Logger, repo repository.FullRepository, q *syncqueue.Queue, b *bus.Bus, rules scoring.Rules) *MatchService {
	return &MatchService{
		log:      log,
		repo:     repo,
		queue:    q,
		bus:      b,
		rules:    rules,
		now:      time.Now,
		sessions: make(map[string]*session),
		aliases:  make(map[string]string),
	}
}

// SetOffsetProvider sets where video offsets for new events come from
func (s *MatchService) SetOffsetProvider(p OffsetProvider) {
	s.offsets = p
}

// SetMetrics sets the metrics recorder
func (s *MatchService) SetMetrics(m *metrics.Recorder) {
	s.metrics = m
}

// Rules returns the scoring rules new matches are created with
func (s *MatchService) Rules() scoring.Rules {
	return s.rules
}

// CreateMatch sets up a match under a temporary id and queues its creation
// on the remote.
func (s *MatchService) CreateMatch(ctx context.Context, in NewMatch) (*models.Match, error) {
	if in.WrestlerID == "" && in.WrestlerName != "" {
		in.WrestlerID = uuid.NewString()
	}
	if in.OpponentID == "" && in.OpponentName != "" {
		in.OpponentID = uuid.NewString()
	}
	if in.WeightClass < 0 {
		return nil, errors.Validation("weight class must not be negative")
	}

	now := s.now()
	m, err := scoring.New(s.rules, models.Match{
		ID:           models.TempIDPrefix + uuid.NewString(),
		TeamID:       in.TeamID,
		WrestlerID:   in.WrestlerID,
		WrestlerName: in.WrestlerName,
		OpponentID:   in.OpponentID,
		OpponentName: in.OpponentName,
		WeightClass:  in.WeightClass,
		MatchType:    in.MatchType,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	snap := m.Snapshot()
	op, err := s.queue.Prepare(models.OpCreateMatch, snap.ID, snap.ID, remote.NewMatchPayload(snap, nil))
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.SaveMatch(ctx, &snap); err != nil {
			return err
		}
		op, err = s.queue.EnqueueTx(ctx, tx, op)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	s.mu.Lock()
	s.sessions[snap.ID] = &session{machine: m, checkpoint: now}
	s.mu.Unlock()

	s.queue.Announce(op)
	s.log.Info("Match created", "match_id", snap.ID, "wrestler", snap.WrestlerName, "opponent", snap.OpponentName)
	s.publish(bus.EventMatchUpdated, snap.ID, snap)
	return &snap, nil
}

// GetMatch returns the current view of a match
func (s *MatchService) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	snap := sess.machine.Snapshot()
	sess.mu.Unlock()
	return &snap, nil
}

// ListMatches returns every match, newest first
func (s *MatchService) ListMatches(ctx context.Context) ([]models.Match, error) {
	stored, err := s.repo.ListMatches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Match, 0, len(stored))
	for _, m := range stored {
		if sess := s.cached(m.ID); sess != nil {
			sess.mu.Lock()
			m = sess.machine.Snapshot()
			sess.mu.Unlock()
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Events returns the scoring log of a match
func (s *MatchService) Events(ctx context.Context, id string) ([]models.ScoringEvent, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.machine.Events(), nil
}

// Stats derives per-participant statistics from the scoring log
func (s *MatchService) Stats(ctx context.Context, id string) (eventlog.Stats, error) {
	events, err := s.Events(ctx, id)
	if err != nil {
		return eventlog.Stats{}, err
	}
	return eventlog.ComputeStats(events), nil
}

// StartPeriod starts the clock for the current period
func (s *MatchService) StartPeriod(ctx context.Context, id string) (*models.Match, error) {
	return s.mutate(ctx, id, models.OpUpdateMatch, func(m *scoring.Machine, now time.Time) error {
		return m.StartPeriod(now)
	})
}

// Pause stops the clock
func (s *MatchService) Pause(ctx context.Context, id string) (*models.Match, error) {
	return s.mutate(ctx, id, "", func(m *scoring.Machine, now time.Time) error {
		return m.Pause(now)
	})
}

// Resume restarts the clock
func (s *MatchService) Resume(ctx context.Context, id string) (*models.Match, error) {
	return s.mutate(ctx, id, "", func(m *scoring.Machine, now time.Time) error {
		return m.Resume(now)
	})
}

// Advance moves a completed period to the next one
func (s *MatchService) Advance(ctx context.Context, id string) (*models.Match, error) {
	return s.mutate(ctx, id, models.OpUpdateMatch, func(m *scoring.Machine, now time.Time) error {
		return m.Advance(now)
	})
}

// SetBloodTime toggles the blood-time flag
func (s *MatchService) SetBloodTime(ctx context.Context, id string, on bool) (*models.Match, error) {
	return s.mutate(ctx, id, "", func(m *scoring.Machine, now time.Time) error {
		return m.SetBloodTime(on, now)
	})
}

// SetInjuryTime toggles the injury-time flag
func (s *MatchService) SetInjuryTime(ctx context.Context, id string, on bool) (*models.Match, error) {
	return s.mutate(ctx, id, "", func(m *scoring.Machine, now time.Time) error {
		return m.SetInjuryTime(on, now)
	})
}

// End freezes the match with a result and queues the final row
func (s *MatchService) End(ctx context.Context, id string, in EndMatch) (*models.Match, error) {
	snap, err := s.mutate(ctx, id, models.OpEndMatch, func(m *scoring.Machine, now time.Time) error {
		return m.End(in.Reason, in.WinnerID, in.PinTime, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Match ended", "match_id", snap.ID, "reason", snap.EndReason,
		"score_for", snap.Score.For, "score_against", snap.Score.Against)
	return snap, nil
}

// Score records a scoring action. The event, the new match snapshot and the
// append_event operation are written in one transaction before returning.
func (s *MatchService) Score(ctx context.Context, id string, actor models.Participant, action models.Action) (*ScoreResult, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	m := sess.machine
	now := s.now()
	var offset time.Duration
	if s.offsets != nil {
		offset = s.offsets.Offset(m.ID())
	}
	ev, err := m.Score(actor, action, now, offset)
	if err != nil {
		return nil, err
	}
	snap := m.Snapshot()

	op, err := s.queue.Prepare(models.OpAppendEvent, ev.ID, snap.ID, remote.NewEventPayload(ev))
	if err != nil {
		s.evict(snap.ID)
		return nil, err
	}
	if err := s.repo.RecordScoreAndEnqueue(ctx, &snap, ev, op); err != nil {
		s.evict(snap.ID)
		return nil, fmt.Errorf("failed to record score: %w", err)
	}
	sess.checkpoint = now
	s.queue.Announce(op)

	// The aggregate row follows the log; a lost update is rebuilt by the next one.
	if update, err := s.matchOp(models.OpUpdateMatch, m); err == nil {
		if _, err := s.queue.Enqueue(ctx, update.Kind, update.EntityID, update.MatchID, update.Payload); err != nil {
			s.log.Warn("Failed to queue match update", "match_id", snap.ID, "error", err)
		}
	}

	s.metrics.ObserveScoringEvent(string(action))
	s.log.Debug("Score recorded", "match_id", snap.ID, "seq", ev.Seq, "action", action, "points", ev.Points, "credited", ev.Credited)
	s.publish(bus.EventScoreRecorded, snap.ID, ev)
	s.publish(bus.EventMatchUpdated, snap.ID, snap)
	return &ScoreResult{Event: ev, Match: snap}, nil
}

// RunClock ticks every running match until ctx is cancelled. Clock changes
// are published on the bus and checkpointed to the store once a second.
func (s *MatchService) RunClock(ctx context.Context) {
	ticker := time.NewTicker(ClockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick advances the clock of every running match once
func (s *MatchService) Tick(ctx context.Context) {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		s.tick(ctx, sess)
	}
}

func (s *MatchService) tick(ctx context.Context, sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	m := sess.machine
	if m.State() != scoring.StatePeriodRunning {
		return
	}
	now := s.now()
	res := m.Tick(now)
	if !res.Changed {
		return
	}
	snap := m.Snapshot()
	s.publish(bus.EventClockTick, snap.ID, map[string]any{
		"clock_ms": res.Remaining.Milliseconds(),
		"period":   snap.Period,
		"label":    snap.PeriodLabel,
	})

	if !res.PeriodEnded && now.Sub(sess.checkpoint) < checkpointEvery {
		return
	}
	if err := s.repo.SaveMatch(ctx, &snap); err != nil {
		s.log.Error("Failed to checkpoint match clock", "match_id", snap.ID, "error", err)
		return
	}
	sess.checkpoint = now

	if res.PeriodEnded {
		s.log.Info("Period complete", "match_id", snap.ID, "period", snap.PeriodLabel)
		s.publish(bus.EventPeriodEnded, snap.ID, snap)
		s.publish(bus.EventMatchUpdated, snap.ID, snap)
	}
}

// Restore loads every open match from the store. Matches that were running
// when the process stopped come back paused. It returns the number loaded.
func (s *MatchService) Restore(ctx context.Context) (int, error) {
	matches, err := s.repo.ListMatches(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		if m.Ended() || s.cached(m.ID) != nil {
			continue
		}
		if _, err := s.load(ctx, m); err != nil {
			s.log.Error("Failed to restore match", "match_id", m.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("Matches restored", "count", n)
	}
	return n, nil
}

// OpenMatchIDs returns the ids of loaded matches that have not ended
func (s *MatchService) OpenMatchIDs() []string {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		if sess.machine.State() != scoring.StateEnded {
			ids = append(ids, sess.machine.ID())
		}
		sess.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// RewriteMatchID moves a match from its temporary id to the one the remote
// assigned. Requests that still use the old id resolve to the new one.
func (s *MatchService) RewriteMatchID(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	sess := s.cached(oldID)
	snap, err := s.rebind(ctx, sess, oldID, newID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if sess != nil {
		delete(s.sessions, oldID)
		s.sessions[newID] = sess
	}
	s.aliases[oldID] = newID
	s.mu.Unlock()

	s.log.Info("Match id assigned by remote", "old_id", oldID, "new_id", newID)
	// Must run without sess.mu held: handlers may read the match or write to the network.
	if snap != nil {
		s.publish(bus.EventMatchUpdated, newID, *snap)
	}
	return nil
}

// rebind rewrites the stored match and the cached session under the session
// lock. It returns the rebound snapshot when a session is cached.
func (s *MatchService) rebind(ctx context.Context, sess *session, oldID, newID string) (*models.Match, error) {
	if sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()
	}
	if err := s.repo.RewriteMatchID(ctx, oldID, newID); err != nil {
		return nil, fmt.Errorf("failed to rewrite match id %s: %w", oldID, err)
	}
	if sess == nil {
		return nil, nil
	}
	if sess.machine.ID() == oldID {
		sess.machine.Rebind(newID)
	}
	snap := sess.machine.Snapshot()
	return &snap, nil
}

// ApplyRemoteChange records a newer remote aggregate against the local
// match. The scoring log and local status are never touched. It reports
// whether anything changed.
func (s *MatchService) ApplyRemoteChange(ctx context.Context, ch realtime.Change) (bool, error) {
	sess, err := s.session(ctx, ch.MatchID())
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !realtime.ShouldMerge(sess.machine.Snapshot(), ch) {
		return false, nil
	}
	if !sess.machine.ApplyRemoteScore(realtime.RemoteScore(ch), ch.Match.UpdatedAt) {
		return false, nil
	}
	snap := sess.machine.Snapshot()
	if err := s.repo.SaveMatch(ctx, &snap); err != nil {
		s.evict(snap.ID)
		return false, fmt.Errorf("failed to save remote score: %w", err)
	}
	if snap.RemoteScore != nil && *snap.RemoteScore != snap.Score {
		s.log.Warn("Remote score differs from local log", "match_id", snap.ID,
			"local", snap.Score, "remote", *snap.RemoteScore)
	}
	s.publish(bus.EventMatchUpdated, snap.ID, snap)
	return true, nil
}

// mutate applies fn under the match lock, writes the snapshot and, when
// kind is set, queues the match row for the remote in the same transaction.
func (s *MatchService) mutate(ctx context.Context, id string, kind models.OpKind, fn func(*scoring.Machine, time.Time) error) (*models.Match, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	now := s.now()
	if err := fn(sess.machine, now); err != nil {
		return nil, err
	}
	snap := sess.machine.Snapshot()

	var op *models.PendingOperation
	if kind != "" {
		if op, err = s.matchOp(kind, sess.machine); err != nil {
			s.evict(snap.ID)
			return nil, err
		}
	}
	err = s.repo.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.SaveMatch(ctx, &snap); err != nil {
			return err
		}
		if op != nil {
			op, err = s.queue.EnqueueTx(ctx, tx, op)
		}
		return err
	})
	if err != nil {
		s.evict(snap.ID)
		return nil, fmt.Errorf("failed to save match %s: %w", snap.ID, err)
	}
	sess.checkpoint = now
	s.queue.Announce(op)
	s.publish(bus.EventMatchUpdated, snap.ID, snap)
	return &snap, nil
}

func (s *MatchService) matchOp(kind models.OpKind, m *scoring.Machine) (*models.PendingOperation, error) {
	snap := m.Snapshot()
	stats := eventlog.ComputeStats(m.Events())
	return s.queue.Prepare(kind, snap.ID, snap.ID, remote.NewMatchPayload(snap, &stats))
}

// session returns the loaded machine for id, restoring it from the store on
// first use.
func (s *MatchService) session(ctx context.Context, id string) (*session, error) {
	if id == "" {
		return nil, errors.InvalidInput("match id is required")
	}
	if sess := s.cached(id); sess != nil {
		return sess, nil
	}
	m, err := s.repo.GetMatch(ctx, s.resolve(id))
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.NotFoundf("match %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return s.load(ctx, *m)
}

func (s *MatchService) load(ctx context.Context, m models.Match) (*session, error) {
	events, err := s.repo.ListEvents(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	machine, err := scoring.Restore(s.rules, m, events)
	if err != nil {
		return nil, err
	}
	if verr := eventlog.Verify(events, m.Score); verr != nil {
		s.log.Warn("Stored score disagrees with event log, using log", "match_id", m.ID, "error", verr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[m.ID]; ok {
		return existing, nil
	}
	sess := &session{machine: machine, checkpoint: s.now()}
	s.sessions[m.ID] = sess
	return sess, nil
}

func (s *MatchService) cached(id string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	if alias, ok := s.aliases[id]; ok {
		return s.sessions[alias]
	}
	return nil
}

func (s *MatchService) resolve(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if alias, ok := s.aliases[id]; ok {
		return alias
	}
	return id
}

// evict drops a session whose in-memory state may be ahead of the store.
// The next request reloads it.
func (s *MatchService) evict(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *MatchService) publish(t bus.EventType, matchID string, payload any) {
	s.bus.Publish(bus.Event{Type: t, MatchID: matchID, Timestamp: s.now(), Payload: payload})
}
