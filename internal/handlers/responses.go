package handlers

import (
	"github.com/thefortaiagency/aether-insight/internal/dedup"
	"github.com/thefortaiagency/aether-insight/internal/importer"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

// MatchesResponse wraps the match list
type MatchesResponse struct {
	Matches []models.Match `json:"matches"`
}

// EventsResponse wraps a match's event log
type EventsResponse struct {
	MatchID string                `json:"match_id"`
	Events  []models.ScoringEvent `json:"events"`
}

// OperationsResponse wraps the pending operation list
type OperationsResponse struct {
	Operations []models.PendingOperation `json:"operations"`
}

// RetryAllResponse reports how many failed operations were requeued
type RetryAllResponse struct {
	Retried int `json:"retried"`
}

// VideosResponse wraps the video list
type VideosResponse struct {
	Videos []models.VideoAsset `json:"videos"`
}

// ActiveRecordingResponse describes the recording in progress, if any
type ActiveRecordingResponse struct {
	Recording bool               `json:"recording"`
	Video     *models.VideoAsset `json:"video,omitempty"`
}

// SweepResponse reports how many stalled uploads were requeued
type SweepResponse struct {
	Requeued int `json:"requeued"`
}

// ImportAddResponse reports how many candidates were buffered
type ImportAddResponse struct {
	Added int `json:"added"`
}

// ImportsResponse wraps the buffered import entries
type ImportsResponse struct {
	Entries []importer.Entry `json:"entries"`
}

// ClassifyResponse wraps dedup decisions for a batch of candidates
type ClassifyResponse struct {
	Results []dedup.BatchResult `json:"results"`
}

// ReviewsResponse wraps the open review items
type ReviewsResponse struct {
	Reviews []models.ReviewItem `json:"reviews"`
}

// ResolveReviewResponse carries the operation queued by a resolved review
type ResolveReviewResponse struct {
	Operation *models.PendingOperation `json:"operation,omitempty"`
}

// LoginResponse carries a bearer token for the browser extension
type LoginResponse struct {
	Token string `json:"token"`
}
