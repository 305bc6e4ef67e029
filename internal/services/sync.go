package services

import (
	"context"

	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
)

// StorageReporter reports local store usage
type StorageReporter interface {
	StorageUsage(ctx context.Context) (*repository.StorageUsage, error)
}

// SyncService is the operator's view of the replay queue
type SyncService struct {
	log      logger.Logger
	queue    *syncqueue.Queue
	replayer *syncqueue.Replayer
	storage  StorageReporter
}

// NewSyncService creates a new SyncService
func NewSyncService(log logger.Logger, q *syncqueue.Queue, r *syncqueue.Replayer, storage StorageReporter) *SyncService {
	return &SyncService{log: log, queue: q, replayer: r, storage: storage}
}

// Status reports connectivity and queue counts
func (s *SyncService) Status(ctx context.Context) (*syncqueue.Status, error) {
	return s.replayer.Status(ctx)
}

// SyncNow runs a drain immediately. A drain already in progress is
// reported as a conflict.
func (s *SyncService) SyncNow(ctx context.Context) (syncqueue.DrainResult, error) {
	return s.replayer.Drain(ctx)
}

// ListOperations returns every queued operation in replay order
func (s *SyncService) ListOperations(ctx context.Context) ([]models.PendingOperation, error) {
	return s.queue.List(ctx)
}

// Retry returns a failed operation to the queue
func (s *SyncService) Retry(ctx context.Context, opID string) (*models.PendingOperation, error) {
	return s.replayer.Retry(ctx, opID)
}

// RetryAll returns every failed operation to the queue. It returns the
// number requeued.
func (s *SyncService) RetryAll(ctx context.Context) (int, error) {
	ops, err := s.queue.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, op := range ops {
		if op.Status != models.OpFailed {
			continue
		}
		if _, err := s.replayer.Retry(ctx, op.ID); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Info("Failed operations requeued", "count", n)
	}
	return n, nil
}

// StorageUsage reports how much is held on the device
func (s *SyncService) StorageUsage(ctx context.Context) (*repository.StorageUsage, error) {
	return s.storage.StorageUsage(ctx)
}
