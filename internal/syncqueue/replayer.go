package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/metrics"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// ErrDrainInProgress is returned when a drain is requested while another runs.
var ErrDrainInProgress = errors.Conflict("sync already in progress")

// IDRewriter re-keys local state once the remote assigns a match id
type IDRewriter interface {
	RewriteMatchID(ctx context.Context, oldID, newID string) error
}

// Uploader performs the upload_video operation for one asset
type Uploader interface {
	Upload(ctx context.Context, assetID string) error
}

// Config tunes the replayer
type Config struct {
	MaxAttempts    int
	Concurrency    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the standard retry policy: 1s doubling to 60s,
// ten attempts, four matches in parallel.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    10,
		Concurrency:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (1-based).
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
	}
	b.Reset()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// DrainResult summarises one drain cycle
type DrainResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Online    bool          `json:"online"`
	Skipped   bool          `json:"skipped"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Retried   int           `json:"retried"`
	Failed    int           `json:"failed"`
}

// Status is the operator view of the queue
type Status struct {
	Online    bool                      `json:"online"`
	Syncing   bool                      `json:"syncing"`
	Counts    map[models.OpStatus]int   `json:"counts"`
	LastDrain *DrainResult              `json:"last_drain,omitempty"`
	Failed    []models.PendingOperation `json:"failed"`
}

// Option configures a Replayer
type Option func(*Replayer)

// WithConfig sets the retry policy
func WithConfig(cfg Config) Option {
	return func(r *Replayer) { r.cfg = cfg }
}

// WithBus publishes drain and connectivity events on b
func WithBus(b *bus.Bus) Option {
	return func(r *Replayer) { r.bus = b }
}

// WithMetrics records drain metrics
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Replayer) { r.metrics = m }
}

// WithRewriter sets the hook called after create_match succeeds
func WithRewriter(rw IDRewriter) Option {
	return func(r *Replayer) { r.rewriter = rw }
}

// WithUploader sets the handler for upload_video operations
func WithUploader(u Uploader) Option {
	return func(r *Replayer) { r.uploader = u }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Replayer) { r.now = now }
}

// Replayer drains the queue against the remote store
type Replayer struct {
	queue    *Queue
	client   remote.Client
	log      logger.Logger
	bus      *bus.Bus
	metrics  *metrics.Recorder
	rewriter IDRewriter
	uploader Uploader
	cfg      Config
	now      func() time.Time

	syncing atomic.Bool
	online  atomic.Bool
	probed  atomic.Bool

	mu   sync.Mutex
	last *DrainResult
}

// NewReplayer creates a replayer for q
func NewReplayer(q *Queue, client remote.Client, log logger.Logger, opts ...Option) *Replayer {
	r := &Replayer{
		queue:  q,
		client: client,
		log:    log,
		cfg:    DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.Concurrency < 1 {
		r.cfg.Concurrency = 1
	}
	if r.cfg.MaxAttempts < 1 {
		r.cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return r
}

// SetUploader sets the handler for upload_video operations
func (r *Replayer) SetUploader(u Uploader) { r.uploader = u }

// SetRewriter sets the hook called after create_match succeeds
func (r *Replayer) SetRewriter(rw IDRewriter) { r.rewriter = rw }

// Online reports the result of the last probe
func (r *Replayer) Online() bool { return r.online.Load() }

// Syncing reports whether a drain is running
func (r *Replayer) Syncing() bool { return r.syncing.Load() }

// Probe pings the remote and publishes connectivity_changed on transitions.
func (r *Replayer) Probe(ctx context.Context) error {
	err := r.client.Ping(ctx)
	online := err == nil
	prev := r.online.Swap(online)
	first := !r.probed.Swap(true)

	r.metrics.SetOnline(online)
	if first || prev != online {
		r.log.Info("Connectivity changed", "online", online)
		r.bus.Publish(bus.Event{
			Type:    bus.EventConnectivityChanged,
			Payload: map[string]any{"online": online},
		})
	}
	return err
}

// Drain sends every due operation. Matches are replayed in parallel; within
// a match ops go strictly in order and the first failure ends that match's
// turn. An unreachable remote skips the cycle without spending attempts.
func (r *Replayer) Drain(ctx context.Context) (DrainResult, error) {
	if !r.syncing.CompareAndSwap(false, true) {
		r.metrics.ObserveDrainSkipped()
		return DrainResult{Skipped: true, Online: r.Online()}, ErrDrainInProgress
	}
	defer r.syncing.Store(false)

	result := DrainResult{StartedAt: r.now()}
	start := time.Now()

	if err := r.Probe(ctx); err != nil {
		r.log.Debug("Remote unreachable, skipping drain", "error", err)
		r.metrics.ObserveDrainSkipped()
		result.Skipped = true
		r.record(result)
		return result, nil
	}
	result.Online = true

	due, err := r.queue.Due(ctx, r.now())
	if err != nil {
		return result, fmt.Errorf("failed to load due operations: %w", err)
	}

	var tally struct {
		sync.Mutex
		attempted, succeeded, retried, failed int
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, group := range groupOps(due) {
		g.Go(func() error {
			for _, op := range group {
				if ctx.Err() != nil {
					return nil
				}
				res := r.replay(ctx, op)
				tally.Lock()
				switch res {
				case outcomeSkipped:
				case outcomeSuccess:
					tally.attempted++
					tally.succeeded++
				case outcomeRetry:
					tally.attempted++
					tally.retried++
				case outcomeFailed:
					tally.attempted++
					tally.failed++
				}
				tally.Unlock()
				if res != outcomeSuccess && res != outcomeSkipped {
					return nil
				}
			}
			return nil
		})
	}
	g.Wait()

	result.Attempted = tally.attempted
	result.Succeeded = tally.succeeded
	result.Retried = tally.retried
	result.Failed = tally.failed
	result.Duration = time.Since(start)

	r.metrics.ObserveDrain(result.Duration)
	r.updateDepth(ctx)
	r.record(result)

	if result.Attempted > 0 {
		r.log.Info("Sync drain completed",
			"attempted", result.Attempted,
			"succeeded", result.Succeeded,
			"retried", result.Retried,
			"failed", result.Failed,
			"duration", result.Duration)
	}
	r.bus.Publish(bus.Event{Type: bus.EventDrainCompleted, Payload: result})
	return result, ctx.Err()
}

// groupOps splits ops by match, keeping the first-seen order of groups and
// the queue order within each.
func groupOps(ops []models.PendingOperation) [][]models.PendingOperation {
	index := make(map[string]int)
	var groups [][]models.PendingOperation
	for _, op := range ops {
		key := GroupKey(op)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSuccess
	outcomeRetry
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRetry:
		return "retry"
	case outcomeFailed:
		return "failed"
	}
	return "skipped"
}

// replay sends one operation and records the result.
func (r *Replayer) replay(ctx context.Context, queued models.PendingOperation) outcome {
	// Reload: an earlier create_match in this group may have rewritten the match id.
	op, err := r.queue.repo.GetPendingOp(ctx, queued.ID)
	if err != nil {
		return outcomeSkipped
	}
	if op.Status != models.OpPending {
		return outcomeSkipped
	}

	op.Status = models.OpInFlight
	if err := r.queue.save(ctx, op); err != nil {
		r.log.Error("Failed to mark operation in flight", "op_id", op.ID, "error", err)
		return outcomeRetry
	}

	log := r.log.With("op_id", op.ID, "kind", op.Kind, "match_id", op.MatchID)
	sendErr := r.send(ctx, op)

	// send may have rewritten the op's match id on disk
	if fresh, err := r.queue.repo.GetPendingOp(ctx, op.ID); err == nil {
		op = fresh
	}

	var result outcome
	switch {
	case sendErr == nil:
		if err := r.queue.remove(ctx, op.ID); err != nil {
			log.Error("Failed to remove acknowledged operation", "error", err)
		}
		if err := r.markSynced(ctx, op); err != nil {
			log.Error("Failed to mark records synced", "error", err)
		}
		log.Debug("Operation acknowledged")
		result = outcomeSuccess

	case isPermanent(sendErr):
		op.Status = models.OpFailed
		op.LastError = sendErr.Error()
		log.Warn("Operation rejected by remote", "error", sendErr)
		result = outcomeFailed

	default:
		op.Attempts++
		op.LastError = sendErr.Error()
		if op.Attempts >= r.cfg.MaxAttempts {
			op.Status = models.OpFailed
			log.Warn("Operation exhausted retries", "attempts", op.Attempts, "error", sendErr)
			result = outcomeFailed
		} else {
			op.Status = models.OpPending
			op.NextRetryAt = r.now().Add(Backoff(op.Attempts, r.cfg.InitialBackoff, r.cfg.MaxBackoff))
			log.Debug("Operation will be retried", "attempts", op.Attempts, "next_retry_at", op.NextRetryAt, "error", sendErr)
			result = outcomeRetry
		}
	}

	if result != outcomeSuccess {
		if err := r.queue.save(ctx, op); err != nil {
			log.Error("Failed to save operation state", "error", err)
		}
	}
	if result == outcomeFailed {
		r.bus.Publish(bus.Event{
			Type:    bus.EventOpFailed,
			MatchID: op.MatchID,
			Payload: map[string]any{"op_id": op.ID, "kind": op.Kind, "error": op.LastError},
		})
	}
	r.metrics.ObserveOp(string(op.Kind), result.String())
	return result
}

// markSynced flags the records an acknowledged op confirmed. The match
// snapshot counts as synced once no queued op still refers to it.
func (r *Replayer) markSynced(ctx context.Context, op *models.PendingOperation) error {
	return r.queue.repo.WithTx(ctx, func(tx repository.Store) error {
		if op.Kind == models.OpAppendEvent {
			if err := tx.MarkSynced(ctx, repository.NSEvent, op.EntityID); err != nil && err != repository.ErrNotFound {
				return err
			}
		}
		if op.MatchID == "" {
			return nil
		}
		left, err := tx.ListByMatch(ctx, repository.NSPendingOp, op.MatchID)
		if err != nil {
			return err
		}
		if len(left) > 0 {
			return nil
		}
		if err := tx.MarkSynced(ctx, repository.NSMatch, op.MatchID); err != nil && err != repository.ErrNotFound {
			return err
		}
		return nil
	})
}

// isPermanent reports whether retrying err can never succeed.
func isPermanent(err error) bool {
	if remote.IsPermanent(err) {
		return true
	}
	if remote.IsTransient(err) {
		return false
	}
	switch errors.KindOf(err) {
	case errors.ErrPermanent, errors.ErrNotFound, errors.ErrValidation, errors.ErrInvalidInput:
		return true
	}
	return false
}

func (r *Replayer) send(ctx context.Context, op *models.PendingOperation) error {
	switch op.Kind {
	case models.OpCreateMatch:
		var p remote.MatchPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errors.Permanent("decode create_match payload", err)
		}
		ack, err := r.client.CreateMatch(ctx, op.IdempotencyKey, p)
		if err != nil {
			return err
		}
		if r.rewriter != nil && ack.ID != op.MatchID {
			if err := r.rewriter.RewriteMatchID(ctx, op.MatchID, ack.ID); err != nil {
				// The remote row exists; a replay returns the same id.
				return errors.Transient("rewrite match id", err)
			}
			r.bus.Publish(bus.Event{
				Type:    bus.EventMatchIDRewritten,
				MatchID: ack.ID,
				Payload: map[string]string{"old_id": op.MatchID, "new_id": ack.ID},
			})
		}
		return nil

	case models.OpUpdateMatch, models.OpEndMatch:
		var p remote.MatchPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errors.Permanent("decode match payload", err)
		}
		_, err := r.client.PatchMatch(ctx, op.IdempotencyKey, op.MatchID, p)
		return err

	case models.OpAppendEvent:
		var p remote.EventPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errors.Permanent("decode append_event payload", err)
		}
		_, err := r.client.AppendEvents(ctx, op.IdempotencyKey, op.MatchID, []remote.EventPayload{p})
		return err

	case models.OpUploadVideo:
		var p UploadPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errors.Permanent("decode upload_video payload", err)
		}
		if r.uploader == nil {
			return errors.Permanent("no video uploader configured", nil)
		}
		return r.uploader.Upload(ctx, p.AssetID)

	case models.OpImportBatch:
		var p remote.ImportBatch
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errors.Permanent("decode import_batch payload", err)
		}
		_, err := r.client.ImportBatch(ctx, op.IdempotencyKey, p)
		return err
	}
	return errors.Permanent(fmt.Sprintf("unknown operation kind %q", op.Kind), nil)
}

// Retry returns a failed operation to the queue with a fresh attempt count.
func (r *Replayer) Retry(ctx context.Context, opID string) (*models.PendingOperation, error) {
	op, err := r.queue.Get(ctx, opID)
	if err != nil {
		return nil, err
	}
	if op.Status != models.OpFailed {
		return nil, errors.Conflictf("operation %s is %s, only failed operations can be retried", opID, op.Status)
	}
	op.Status = models.OpPending
	op.Attempts = 0
	op.NextRetryAt = time.Time{}
	op.LastError = ""
	if err := r.queue.save(ctx, op); err != nil {
		return nil, err
	}
	r.log.Info("Operation requeued", "op_id", op.ID, "kind", op.Kind)
	r.queue.Announce(op)
	return op, nil
}

// Status reports connectivity and queue counts
func (r *Replayer) Status(ctx context.Context) (*Status, error) {
	ops, err := r.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Online:  r.Online(),
		Syncing: r.Syncing(),
		Counts: map[models.OpStatus]int{
			models.OpPending:  0,
			models.OpInFlight: 0,
			models.OpFailed:   0,
		},
		Failed: []models.PendingOperation{},
	}
	for _, op := range ops {
		st.Counts[op.Status]++
		if op.Status == models.OpFailed {
			st.Failed = append(st.Failed, op)
		}
	}
	r.mu.Lock()
	if r.last != nil {
		last := *r.last
		st.LastDrain = &last
	}
	r.mu.Unlock()
	return st, nil
}

func (r *Replayer) record(res DrainResult) {
	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
}

func (r *Replayer) updateDepth(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	counts, err := r.queue.Counts(ctx)
	if err != nil {
		return
	}
	depth := make(map[string]int, len(counts))
	for status, n := range counts {
		depth[string(status)] = n
	}
	r.metrics.SetQueueDepth(depth)
}
