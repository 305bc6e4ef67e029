package mock

import (
	"context"

	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
)

// Repository wraps a real repository and allows injecting errors for testing.
// This provides a flexible way to test error paths without complex database manipulation.
//
// Usage:
//
//	realRepo := testutil.NewTestRepository(t)
//	mockRepo := mock.NewRepository(realRepo)
//	mockRepo.AppendEventError = errors.New("disk full")
//	svc := services.NewMatchService(log, mockRepo, queue, bus, rules)
//	_, err := svc.Score(ctx, id, models.Wrestler, models.ActionTakedown)
//	// err will now contain the injected error
//
// Injected errors also apply to the Store handed to WithTx callbacks.
type Repository struct {
	repository.FullRepository

	// ===== Match Errors =====
	SaveMatchError   error
	GetMatchError    error
	ListMatchesError error

	// ===== Event Errors =====
	AppendEventError error
	ListEventsError  error

	// ===== Video Errors =====
	SaveVideoError  error
	GetVideoError   error
	ListVideosError error

	// ===== Queue Errors =====
	SavePendingOpError   error
	ListPendingOpsError  error
	DeletePendingOpError error

	// ===== Store Errors =====
	WithTxError         error
	RewriteMatchIDError error
	StorageUsageError   error
	MarkSyncedError     error

	// ===== Review Errors =====
	SaveReviewItemError error

	// ===== Settings Errors =====
	GetSettingError error
	SetSettingError error
}

// NewRepository creates a mock repository wrapping a real one
func NewRepository(real repository.FullRepository) *Repository {
	return &Repository{
		FullRepository: real,
	}
}

// ===== Transaction =====

func (m *Repository) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if m.WithTxError != nil {
		return m.WithTxError
	}
	return m.FullRepository.WithTx(ctx, func(tx repository.Store) error {
		return fn(&txStore{Store: tx, m: m})
	})
}

func (m *Repository) RecordScoreAndEnqueue(ctx context.Context, match *models.Match, e models.ScoringEvent, ops ...*models.PendingOperation) error {
	if m.WithTxError != nil {
		return m.WithTxError
	}
	if m.AppendEventError != nil {
		return m.AppendEventError
	}
	if m.SaveMatchError != nil {
		return m.SaveMatchError
	}
	if m.SavePendingOpError != nil {
		return m.SavePendingOpError
	}
	return m.FullRepository.RecordScoreAndEnqueue(ctx, match, e, ops...)
}

func (m *Repository) RewriteMatchID(ctx context.Context, oldID, newID string) error {
	if m.RewriteMatchIDError != nil {
		return m.RewriteMatchIDError
	}
	return m.FullRepository.RewriteMatchID(ctx, oldID, newID)
}

func (m *Repository) StorageUsage(ctx context.Context) (*repository.StorageUsage, error) {
	if m.StorageUsageError != nil {
		return nil, m.StorageUsageError
	}
	return m.FullRepository.StorageUsage(ctx)
}

// ===== Match Methods =====

func (m *Repository) SaveMatch(ctx context.Context, match *models.Match) error {
	if m.SaveMatchError != nil {
		return m.SaveMatchError
	}
	return m.FullRepository.SaveMatch(ctx, match)
}

func (m *Repository) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	if m.GetMatchError != nil {
		return nil, m.GetMatchError
	}
	return m.FullRepository.GetMatch(ctx, id)
}

func (m *Repository) ListMatches(ctx context.Context) ([]models.Match, error) {
	if m.ListMatchesError != nil {
		return nil, m.ListMatchesError
	}
	return m.FullRepository.ListMatches(ctx)
}

// ===== Event Methods =====

func (m *Repository) AppendEvent(ctx context.Context, e models.ScoringEvent) error {
	if m.AppendEventError != nil {
		return m.AppendEventError
	}
	return m.FullRepository.AppendEvent(ctx, e)
}

func (m *Repository) ListEvents(ctx context.Context, matchID string) ([]models.ScoringEvent, error) {
	if m.ListEventsError != nil {
		return nil, m.ListEventsError
	}
	return m.FullRepository.ListEvents(ctx, matchID)
}

// ===== Video Methods =====

func (m *Repository) SaveVideo(ctx context.Context, v *models.VideoAsset) error {
	if m.SaveVideoError != nil {
		return m.SaveVideoError
	}
	return m.FullRepository.SaveVideo(ctx, v)
}

func (m *Repository) GetVideo(ctx context.Context, id string) (*models.VideoAsset, error) {
	if m.GetVideoError != nil {
		return nil, m.GetVideoError
	}
	return m.FullRepository.GetVideo(ctx, id)
}

func (m *Repository) ListVideos(ctx context.Context) ([]models.VideoAsset, error) {
	if m.ListVideosError != nil {
		return nil, m.ListVideosError
	}
	return m.FullRepository.ListVideos(ctx)
}

// ===== Queue Methods =====

func (m *Repository) SavePendingOp(ctx context.Context, op *models.PendingOperation) error {
	if m.SavePendingOpError != nil {
		return m.SavePendingOpError
	}
	return m.FullRepository.SavePendingOp(ctx, op)
}

func (m *Repository) ListPendingOps(ctx context.Context) ([]models.PendingOperation, error) {
	if m.ListPendingOpsError != nil {
		return nil, m.ListPendingOpsError
	}
	return m.FullRepository.ListPendingOps(ctx)
}

func (m *Repository) DeletePendingOp(ctx context.Context, id string) error {
	if m.DeletePendingOpError != nil {
		return m.DeletePendingOpError
	}
	return m.FullRepository.DeletePendingOp(ctx, id)
}

func (m *Repository) MarkSynced(ctx context.Context, ns repository.Namespace, id string) error {
	if m.MarkSyncedError != nil {
		return m.MarkSyncedError
	}
	return m.FullRepository.MarkSynced(ctx, ns, id)
}

// ===== Review Methods =====

func (m *Repository) SaveReviewItem(ctx context.Context, item *models.ReviewItem) error {
	if m.SaveReviewItemError != nil {
		return m.SaveReviewItemError
	}
	return m.FullRepository.SaveReviewItem(ctx, item)
}

// ===== Settings Methods =====

func (m *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	if m.GetSettingError != nil {
		return "", m.GetSettingError
	}
	return m.FullRepository.GetSetting(ctx, key)
}

func (m *Repository) SetSetting(ctx context.Context, key, value string) error {
	if m.SetSettingError != nil {
		return m.SetSettingError
	}
	return m.FullRepository.SetSetting(ctx, key, value)
}

// txStore applies the wrapper's injected errors inside transactions
type txStore struct {
	repository.Store
	m *Repository
}

func (t *txStore) SaveMatch(ctx context.Context, match *models.Match) error {
	if t.m.SaveMatchError != nil {
		return t.m.SaveMatchError
	}
	return t.Store.SaveMatch(ctx, match)
}

func (t *txStore) AppendEvent(ctx context.Context, e models.ScoringEvent) error {
	if t.m.AppendEventError != nil {
		return t.m.AppendEventError
	}
	return t.Store.AppendEvent(ctx, e)
}

func (t *txStore) SaveVideo(ctx context.Context, v *models.VideoAsset) error {
	if t.m.SaveVideoError != nil {
		return t.m.SaveVideoError
	}
	return t.Store.SaveVideo(ctx, v)
}

func (t *txStore) SavePendingOp(ctx context.Context, op *models.PendingOperation) error {
	if t.m.SavePendingOpError != nil {
		return t.m.SavePendingOpError
	}
	return t.Store.SavePendingOp(ctx, op)
}

func (t *txStore) ListPendingOps(ctx context.Context) ([]models.PendingOperation, error) {
	if t.m.ListPendingOpsError != nil {
		return nil, t.m.ListPendingOpsError
	}
	return t.Store.ListPendingOps(ctx)
}

// Compile-time interface check
var _ repository.FullRepository = (*Repository)(nil)
