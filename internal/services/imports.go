package services

import (
	"context"

	"github.com/thefortaiagency/aether-insight/internal/dedup"
	"github.com/thefortaiagency/aether-insight/internal/importer"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

// ImportService fronts the import buffer and the dedup review queue
type ImportService struct {
	log    logger.Logger
	buffer *importer.Buffer
	dedup  *dedup.Service
}

// NewImportService creates a new ImportService
func NewImportService(log logger.Logger, buf *importer.Buffer, d *dedup.Service) *ImportService {
	return &ImportService{log: log, buffer: buf, dedup: d}
}

// Add buffers candidates scraped from source
func (s *ImportService) Add(ctx context.Context, source string, candidates []models.ImportCandidate) (int, error) {
	return s.buffer.Add(ctx, source, candidates)
}

// List returns the buffered candidates
func (s *ImportService) List(ctx context.Context) ([]importer.Entry, error) {
	return s.buffer.List(ctx)
}

// Classify runs dedup over candidates without buffering them or opening
// review items
func (s *ImportService) Classify(ctx context.Context, candidates []models.ImportCandidate) ([]dedup.BatchResult, error) {
	return s.dedup.ClassifyBatch(ctx, candidates)
}

// Flush classifies and queues everything buffered
func (s *ImportService) Flush(ctx context.Context) (*importer.FlushResult, error) {
	return s.buffer.Flush(ctx)
}

// Clear drops the buffer
func (s *ImportService) Clear(ctx context.Context) error {
	return s.buffer.Clear(ctx)
}

// ListReviews returns the open review items
func (s *ImportService) ListReviews(ctx context.Context) ([]models.ReviewItem, error) {
	return s.dedup.ListReviews(ctx)
}

// ResolveReview settles a review item and queues the result
func (s *ImportService) ResolveReview(ctx context.Context, id, linkTo string) (*models.PendingOperation, error) {
	return s.buffer.Resolve(ctx, id, linkTo)
}
