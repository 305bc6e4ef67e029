package services

import (
	"context"

	"github.com/thefortaiagency/aether-insight/internal/dedup"
	"github.com/thefortaiagency/aether-insight/internal/eventlog"
	"github.com/thefortaiagency/aether-insight/internal/importer"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/realtime"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/scoring"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
)

// MatchServicer defines the interface for match scoring operations
type MatchServicer interface {
	CreateMatch(ctx context.Context, in NewMatch) (*models.Match, error)
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	ListMatches(ctx context.Context) ([]models.Match, error)
	Events(ctx context.Context, id string) ([]models.ScoringEvent, error)
	Stats(ctx context.Context, id string) (eventlog.Stats, error)
	StartPeriod(ctx context.Context, id string) (*models.Match, error)
	Pause(ctx context.Context, id string) (*models.Match, error)
	Resume(ctx context.Context, id string) (*models.Match, error)
	Advance(ctx context.Context, id string) (*models.Match, error)
	SetBloodTime(ctx context.Context, id string, on bool) (*models.Match, error)
	SetInjuryTime(ctx context.Context, id string, on bool) (*models.Match, error)
	Score(ctx context.Context, id string, actor models.Participant, action models.Action) (*ScoreResult, error)
	End(ctx context.Context, id string, in EndMatch) (*models.Match, error)
	Rules() scoring.Rules
}

// SyncServicer defines the interface for sync queue operations
type SyncServicer interface {
	Status(ctx context.Context) (*syncqueue.Status, error)
	SyncNow(ctx context.Context) (syncqueue.DrainResult, error)
	ListOperations(ctx context.Context) ([]models.PendingOperation, error)
	Retry(ctx context.Context, opID string) (*models.PendingOperation, error)
	RetryAll(ctx context.Context) (int, error)
	StorageUsage(ctx context.Context) (*repository.StorageUsage, error)
}

// VideoServicer defines the interface for recording operations
type VideoServicer interface {
	StartRecording(ctx context.Context, matchID string) (*models.VideoAsset, error)
	WriteChunk(ctx context.Context, data []byte) (*models.VideoAsset, error)
	StopRecording(ctx context.Context) (*models.VideoAsset, error)
	Active() (models.VideoAsset, bool)
	ListVideos(ctx context.Context) ([]models.VideoAsset, error)
	GetVideo(ctx context.Context, id string) (*models.VideoAsset, error)
	Sweep(ctx context.Context) (int, error)
}

// ImportServicer defines the interface for extension imports and reviews
type ImportServicer interface {
	Add(ctx context.Context, source string, candidates []models.ImportCandidate) (int, error)
	List(ctx context.Context) ([]importer.Entry, error)
	Classify(ctx context.Context, candidates []models.ImportCandidate) ([]dedup.BatchResult, error)
	Flush(ctx context.Context) (*importer.FlushResult, error)
	Clear(ctx context.Context) error
	ListReviews(ctx context.Context) ([]models.ReviewItem, error)
	ResolveReview(ctx context.Context, id, linkTo string) (*models.PendingOperation, error)
}

// SettingsServicer defines the interface for settings operations
type SettingsServicer interface {
	GetRemoteURL(ctx context.Context) (string, error)
	SetRemoteURL(ctx context.Context, url string) error
	SetRemoteToken(ctx context.Context, token string) error
	GetBaseURL(ctx context.Context) (string, error)
	SetBaseURL(ctx context.Context, url string) error
	GetTeamID(ctx context.Context) (string, error)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]interface{}, error)
	UpdateSettings(ctx context.Context, settings Settings) error
	ResetNamespaces(ctx context.Context, names []string) (*ResetResult, error)
	ApplyStored(ctx context.Context) error
	SetRemote(r RemoteConfigurer)
}

// Ensure concrete types implement interfaces
var (
	_ MatchServicer    = (*MatchService)(nil)
	_ SyncServicer     = (*SyncService)(nil)
	_ VideoServicer    = (*VideoService)(nil)
	_ ImportServicer   = (*ImportService)(nil)
	_ SettingsServicer = (*SettingsService)(nil)

	_ syncqueue.IDRewriter = (*MatchService)(nil)
	_ realtime.Applier     = (*MatchService)(nil)
)
