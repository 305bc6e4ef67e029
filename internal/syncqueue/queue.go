// Package syncqueue holds the durable queue of remote mutations and the
// replayer that drains it against the remote store.
package syncqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
)

// Store is the persistence the queue needs
type Store interface {
	repository.PendingOpRepository
	repository.RecordStore
	WithTx(ctx context.Context, fn func(tx repository.Store) error) error
}

// UploadPayload is the payload of an upload_video operation
type UploadPayload struct {
	AssetID string `json:"asset_id"`
}

// Queue is the durable FIFO of pending remote operations
type Queue struct {
	repo Store
	log  logger.Logger
	bus  *bus.Bus
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a queue over repo
func New(repo Store, log logger.Logger, b *bus.Bus) *Queue {
	return &Queue{repo: repo, log: log, bus: b, now: time.Now}
}

// IdempotencyKey derives the key the remote uses to collapse replays. The
// same mutation always produces the same key.
func IdempotencyKey(kind models.OpKind, entityID string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Prepare builds a pending operation without persisting it. Callers that
// need the op written alongside other records pass it to EnqueueTx or to
// the repository directly.
func (q *Queue) Prepare(kind models.OpKind, entityID, matchID string, payload any) (*models.PendingOperation, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Internalf("encode %s payload: %v", kind, err)
	}
	now := q.now()
	return &models.PendingOperation{
		ID:             uuid.NewString(),
		Kind:           kind,
		EntityID:       entityID,
		MatchID:        matchID,
		Payload:        body,
		IdempotencyKey: IdempotencyKey(kind, entityID, body),
		Status:         models.OpPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Enqueue persists an operation, collapsing it into an existing one where
// possible.
func (q *Queue) Enqueue(ctx context.Context, kind models.OpKind, entityID, matchID string, payload any) (*models.PendingOperation, error) {
	op, err := q.Prepare(kind, entityID, matchID, payload)
	if err != nil {
		return nil, err
	}

	var stored *models.PendingOperation
	err = q.repo.WithTx(ctx, func(tx repository.Store) error {
		var err error
		stored, err = q.EnqueueTx(ctx, tx, op)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}
	q.Announce(stored)
	return stored, nil
}

// EnqueueTx stores op using tx. An identical key returns the existing
// operation. A queued update_match for the same entity that has not been
// sent yet takes the new payload instead of adding a second op.
func (q *Queue) EnqueueTx(ctx context.Context, tx repository.PendingOpRepository, op *models.PendingOperation) (*models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := tx.ListPendingOps(ctx)
	if err != nil {
		return nil, err
	}

	for i := range ops {
		existing := &ops[i]
		if existing.Status == models.OpDone {
			continue
		}
		if existing.IdempotencyKey == op.IdempotencyKey {
			return existing, nil
		}
	}

	if op.Kind == models.OpUpdateMatch {
		for i := range ops {
			existing := &ops[i]
			if existing.Kind != op.Kind || existing.EntityID != op.EntityID {
				continue
			}
			if existing.Status != models.OpPending && existing.Status != models.OpFailed {
				continue
			}
			existing.Payload = op.Payload
			existing.IdempotencyKey = op.IdempotencyKey
			existing.Status = models.OpPending
			existing.Attempts = 0
			existing.NextRetryAt = time.Time{}
			existing.LastError = ""
			existing.UpdatedAt = q.now()
			if err := tx.SavePendingOp(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	if err := tx.SavePendingOp(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Announce publishes op_enqueued for ops that were committed
func (q *Queue) Announce(ops ...*models.PendingOperation) {
	for _, op := range ops {
		if op == nil {
			continue
		}
		q.bus.Publish(bus.Event{
			Type:    bus.EventOpEnqueued,
			MatchID: op.MatchID,
			Payload: map[string]any{"op_id": op.ID, "kind": op.Kind},
		})
	}
}

// Recover resets operations left in_flight by an interrupted drain.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	ops, err := q.repo.ListPendingOps(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range ops {
		op := &ops[i]
		if op.Status != models.OpInFlight {
			continue
		}
		op.Status = models.OpPending
		op.UpdatedAt = q.now()
		if err := q.repo.SavePendingOp(ctx, op); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		q.log.Info("Recovered interrupted operations", "count", n)
	}
	return n, nil
}

// Due returns the operations that may be sent now, in enqueue order. Within
// a match an op is held back while an earlier op of that match is in
// flight, waiting out a backoff, or is a failed create_match.
func (q *Queue) Due(ctx context.Context, now time.Time) ([]models.PendingOperation, error) {
	ops, err := q.repo.ListPendingOps(ctx)
	if err != nil {
		return nil, err
	}

	blocked := make(map[string]bool)
	var due []models.PendingOperation
	for _, op := range ops {
		key := GroupKey(op)
		switch op.Status {
		case models.OpInFlight:
			blocked[key] = true
		case models.OpFailed:
			if op.Kind == models.OpCreateMatch {
				blocked[key] = true
			}
		case models.OpPending:
			if blocked[key] {
				continue
			}
			if op.NextRetryAt.After(now) {
				blocked[key] = true
				continue
			}
			due = append(due, op)
		}
	}
	return due, nil
}

// GroupKey is the ordering domain of an op: its match, or the op itself
// when it belongs to none.
func GroupKey(op models.PendingOperation) string {
	if op.MatchID != "" {
		return op.MatchID
	}
	return "op:" + op.ID
}

// Get returns one operation
func (q *Queue) Get(ctx context.Context, id string) (*models.PendingOperation, error) {
	op, err := q.repo.GetPendingOp(ctx, id)
	if err == repository.ErrNotFound {
		return nil, errors.NotFoundf("operation %s not found", id)
	}
	return op, err
}

// List returns every queued operation in enqueue order
func (q *Queue) List(ctx context.Context) ([]models.PendingOperation, error) {
	return q.repo.ListPendingOps(ctx)
}

// Counts returns the number of operations per status
func (q *Queue) Counts(ctx context.Context) (map[models.OpStatus]int, error) {
	ops, err := q.repo.ListPendingOps(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[models.OpStatus]int{
		models.OpPending:  0,
		models.OpInFlight: 0,
		models.OpFailed:   0,
	}
	for _, op := range ops {
		counts[op.Status]++
	}
	return counts, nil
}

func (q *Queue) save(ctx context.Context, op *models.PendingOperation) error {
	op.UpdatedAt = q.now()
	return q.repo.SavePendingOp(ctx, op)
}

func (q *Queue) remove(ctx context.Context, id string) error {
	err := q.repo.DeletePendingOp(ctx, id)
	if err == repository.ErrNotFound {
		return nil
	}
	return err
}
