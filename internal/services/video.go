package services

import (
	"context"
	stderrors "errors"
	"sort"

	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/video"
)

// VideoService runs match recordings and exposes their upload state
type VideoService struct {
	log      logger.Logger
	repo     repository.VideoRepository
	matches  *MatchService
	recorder *video.Recorder
	uploader *video.Uploader
}

// NewVideoService creates a new VideoService
func NewVideoService(log logger.Logger, repo repository.VideoRepository, matches *MatchService, rec *video.Recorder, up *video.Uploader) *VideoService {
	return &VideoService{log: log, repo: repo, matches: matches, recorder: rec, uploader: up}
}

// StartRecording begins recording for a match that has not ended
func (s *VideoService) StartRecording(ctx context.Context, matchID string) (*models.VideoAsset, error) {
	m, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Ended() {
		return nil, errors.Conflictf("match %s has ended", m.ID)
	}
	return s.recorder.Start(ctx, m.ID)
}

// WriteChunk appends data to the active recording
func (s *VideoService) WriteChunk(ctx context.Context, data []byte) (*models.VideoAsset, error) {
	if len(data) == 0 {
		return nil, ErrEmptyChunk
	}
	return s.recorder.WriteChunk(ctx, data)
}

// StopRecording finishes the active recording and queues its upload
func (s *VideoService) StopRecording(ctx context.Context) (*models.VideoAsset, error) {
	return s.recorder.Stop(ctx)
}

// Active returns the recording in progress, if any
func (s *VideoService) Active() (models.VideoAsset, bool) {
	return s.recorder.Active()
}

// ListVideos returns every asset, newest first
func (s *VideoService) ListVideos(ctx context.Context) ([]models.VideoAsset, error) {
	assets, err := s.repo.ListVideos(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(assets, func(i, j int) bool { return assets[i].StartedAt.After(assets[j].StartedAt) })
	return assets, nil
}

// GetVideo returns one asset
func (s *VideoService) GetVideo(ctx context.Context, id string) (*models.VideoAsset, error) {
	a, err := s.repo.GetVideo(ctx, id)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.NotFoundf("video %s not found", id)
	}
	return a, err
}

// Sweep requeues unconfirmed uploads
func (s *VideoService) Sweep(ctx context.Context) (int, error) {
	return s.uploader.Sweep(ctx)
}
