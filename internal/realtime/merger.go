package realtime

import (
	"context"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

// Applier stores a remote change against the local match it refers to
type Applier interface {
	ApplyRemoteChange(ctx context.Context, ch Change) (bool, error)
}

// ShouldMerge reports whether ch is newer than what local already holds.
// Deletes are never merged and ended matches are never reopened.
func ShouldMerge(local models.Match, ch Change) bool {
	if ch.Type == ChangeDelete || local.Ended() {
		return false
	}
	if ch.Match.UpdatedAt.IsZero() {
		return false
	}
	if local.RemoteUpdatedAt != nil && !ch.Match.UpdatedAt.After(*local.RemoteUpdatedAt) {
		return false
	}
	return true
}

// RemoteScore is the aggregate score carried by ch
func RemoteScore(ch Change) models.ScorePair {
	return models.ScorePair{For: ch.Match.ScoreFor, Against: ch.Match.ScoreAgainst}
}

// Merger feeds remote_match_changed events to an Applier
type Merger struct {
	applier Applier
	log     logger.Logger
	timeout time.Duration
}

// NewMerger creates a merger and subscribes it to b
func NewMerger(a Applier, b *bus.Bus, log logger.Logger) *Merger {
	m := &Merger{applier: a, log: log, timeout: 5 * time.Second}
	if b != nil {
		b.Subscribe(bus.EventRemoteMatchChanged, m.Handle)
	}
	return m
}

// Handle merges one bus event
func (m *Merger) Handle(e bus.Event) error {
	ch, ok := e.Payload.(Change)
	if !ok {
		return nil
	}
	if ch.Type == ChangeDelete {
		m.log.Info("Remote match deleted; local copy kept", "match_id", ch.MatchID())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	applied, err := m.applier.ApplyRemoteChange(ctx, ch)
	if err != nil {
		return err
	}
	if applied {
		m.log.Debug("Remote score merged", "match_id", ch.MatchID(),
			"for", ch.Match.ScoreFor, "against", ch.Match.ScoreAgainst)
	}
	return nil
}
