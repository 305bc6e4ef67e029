package repository

import (
	"context"

	"github.com/thefortaiagency/aether-insight/internal/models"
)

// RecordStore is the namespaced key-value surface of the local store
type RecordStore interface {
	Put(ctx context.Context, ns Namespace, id, matchID string, v any, synced bool) error
	Insert(ctx context.Context, ns Namespace, id, matchID string, v any) error
	Get(ctx context.Context, ns Namespace, id string, v any) error
	GetRecord(ctx context.Context, ns Namespace, id string) (*Record, error)
	Delete(ctx context.Context, ns Namespace, id string) error
	List(ctx context.Context, ns Namespace) ([]Record, error)
	ListByMatch(ctx context.Context, ns Namespace, matchID string) ([]Record, error)
	ListUnsynced(ctx context.Context, ns Namespace) ([]Record, error)
	MarkSynced(ctx context.Context, ns Namespace, id string) error
}

// MatchRepository defines match snapshot operations
type MatchRepository interface {
	SaveMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	ListMatches(ctx context.Context) ([]models.Match, error)
}

// EventRepository defines scoring event log operations. Events are insert-only.
type EventRepository interface {
	AppendEvent(ctx context.Context, e models.ScoringEvent) error
	ListEvents(ctx context.Context, matchID string) ([]models.ScoringEvent, error)
}

// VideoRepository defines video asset operations
type VideoRepository interface {
	SaveVideo(ctx context.Context, v *models.VideoAsset) error
	GetVideo(ctx context.Context, id string) (*models.VideoAsset, error)
	ListVideos(ctx context.Context) ([]models.VideoAsset, error)
}

// PendingOpRepository defines sync queue persistence
type PendingOpRepository interface {
	SavePendingOp(ctx context.Context, op *models.PendingOperation) error
	GetPendingOp(ctx context.Context, id string) (*models.PendingOperation, error)
	GetPendingOpByKey(ctx context.Context, key string) (*models.PendingOperation, error)
	ListPendingOps(ctx context.Context) ([]models.PendingOperation, error)
	DeletePendingOp(ctx context.Context, id string) error
}

// WrestlerRepository defines roster cache operations
type WrestlerRepository interface {
	SaveWrestler(ctx context.Context, w *models.RosterWrestler) error
	ListWrestlers(ctx context.Context) ([]models.RosterWrestler, error)
}

// ReviewRepository defines dedup review queue operations
type ReviewRepository interface {
	SaveReviewItem(ctx context.Context, item *models.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*models.ReviewItem, error)
	ListReviewItems(ctx context.Context) ([]models.ReviewItem, error)
	DeleteReviewItem(ctx context.Context, id string) error
}

// SettingsRepository defines settings data operations
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store is everything that can run inside a transaction
type Store interface {
	RecordStore
	MatchRepository
	EventRepository
	VideoRepository
	PendingOpRepository
	WrestlerRepository
	ReviewRepository
}

// FullRepository combines all repository interfaces
// Use this when a service needs access to multiple domains
type FullRepository interface {
	Store
	SettingsRepository

	// WithTx runs fn in a single transaction; any error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	RecordScoreAndEnqueue(ctx context.Context, m *models.Match, e models.ScoringEvent, ops ...*models.PendingOperation) error
	RewriteMatchID(ctx context.Context, oldID, newID string) error
	StorageUsage(ctx context.Context) (*StorageUsage, error)
	ClearNamespace(ctx context.Context, ns Namespace) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time interface checks
var (
	_ FullRepository = (*Repository)(nil)
	_ Store          = (*Tx)(nil)
)
