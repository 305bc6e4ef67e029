// Package importer holds records scraped by the browser extension until the
// operator flushes them to the remote store.
package importer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/thefortaiagency/aether-insight/internal/dedup"
	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// MaxBatch caps how many candidates a single Add accepts
const MaxBatch = 500

// Store is the persistence the buffer needs
type Store interface {
	repository.RecordStore
	ClearNamespace(ctx context.Context, ns repository.Namespace) error
	WithTx(ctx context.Context, fn func(tx repository.Store) error) error
}

// Entry is one buffered candidate
type Entry struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Candidate models.ImportCandidate `json:"candidate"`
	AddedAt   time.Time              `json:"added_at"`
}

// FlushResult summarizes a flush
type FlushResult struct {
	Flushed int                 `json:"flushed"`
	Review  int                 `json:"review"`
	Ops     []string            `json:"ops"`
	Results []dedup.BatchResult `json:"results"`
}

// Buffer caches extension payloads in the local store
type Buffer struct {
	repo  Store
	dedup *dedup.Service
	queue *syncqueue.Queue
	log   logger.Logger
	now   func() time.Time
}

// NewBuffer creates an import buffer
func NewBuffer(repo Store, d *dedup.Service, q *syncqueue.Queue, log logger.Logger) *Buffer {
	return &Buffer{repo: repo, dedup: d, queue: q, log: log, now: time.Now}
}

// Add stores candidates from source. It returns the number stored.
func (b *Buffer) Add(ctx context.Context, source string, candidates []models.ImportCandidate) (int, error) {
	if len(candidates) == 0 {
		return 0, errors.InvalidInput("no candidates")
	}
	if len(candidates) > MaxBatch {
		return 0, errors.InvalidInputf("at most %d candidates per request", MaxBatch)
	}
	for i, c := range candidates {
		if c.Name == "" {
			return 0, errors.InvalidInputf("candidate %d has no name", i)
		}
		if c.Kind != "" && c.Kind != dedup.KindWrestler && c.Kind != dedup.KindMatch {
			return 0, errors.InvalidInputf("candidate %d has unknown kind %q", i, c.Kind)
		}
	}

	now := b.now()
	err := b.repo.WithTx(ctx, func(tx repository.Store) error {
		for i, c := range candidates {
			if c.Source == "" {
				c.Source = source
			}
			e := Entry{
				ID:        uuid.NewString(),
				Source:    source,
				Candidate: c,
				AddedAt:   now.Add(time.Duration(i)),
			}
			if err := tx.Put(ctx, repository.NSImport, e.ID, "", e, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to buffer import: %w", err)
	}
	b.log.Info("Import buffered", "source", source, "count", len(candidates))
	return len(candidates), nil
}

// List returns buffered entries oldest first
func (b *Buffer) List(ctx context.Context) ([]Entry, error) {
	recs, err := b.repo.List(ctx, repository.NSImport)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		var e Entry
		if err := r.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

// Flush classifies every buffered entry and queues one import_batch per
// source. Entries in the review band become review items instead and are
// sent once resolved.
func (b *Buffer) Flush(ctx context.Context) (*FlushResult, error) {
	entries, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	res := &FlushResult{Ops: []string{}}
	if len(entries) == 0 {
		return res, nil
	}

	candidates := make([]models.ImportCandidate, len(entries))
	for i, e := range entries {
		candidates[i] = e.Candidate
	}
	results, err := b.dedup.ClassifyBatch(ctx, candidates)
	if err != nil {
		return nil, err
	}
	res.Results = results

	batches := make(map[string]*remote.ImportBatch)
	var sources []string
	for i, r := range results {
		if r.Decision.Outcome == models.OutcomeNeedsReview {
			res.Review++
			continue
		}
		src := entries[i].Source
		batch, ok := batches[src]
		if !ok {
			batch = &remote.ImportBatch{Source: src}
			batches[src] = batch
			sources = append(sources, src)
		}
		batch.Items = append(batch.Items, remote.ImportItem{
			Candidate: r.Candidate,
			Outcome:   r.Decision.Outcome,
			LinkedID:  r.Decision.MatchedID,
		})
		res.Flushed++
	}

	var (
		ops     []*models.PendingOperation
		reviews []models.ReviewItem
	)
	err = b.repo.WithTx(ctx, func(tx repository.Store) error {
		var err error
		if reviews, err = b.dedup.SaveReviewsTx(ctx, tx, results); err != nil {
			return err
		}
		for _, src := range sources {
			prepared, err := b.queue.Prepare(models.OpImportBatch, uuid.NewString(), "", batches[src])
			if err != nil {
				return err
			}
			op, err := b.queue.EnqueueTx(ctx, tx, prepared)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		for _, e := range entries {
			if err := tx.Delete(ctx, repository.NSImport, e.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to flush import: %w", err)
	}
	b.queue.Announce(ops...)
	b.dedup.AnnounceReviews(reviews...)
	for _, op := range ops {
		res.Ops = append(res.Ops, op.ID)
	}
	b.log.Info("Import flushed", "sent", res.Flushed, "review", res.Review, "batches", len(ops))
	return res, nil
}

// Resolve settles a review item and queues the resolved candidate. The
// item is only removed if the import_batch is queued with it.
func (b *Buffer) Resolve(ctx context.Context, reviewID, linkTo string) (*models.PendingOperation, error) {
	var op *models.PendingOperation
	err := b.repo.WithTx(ctx, func(tx repository.Store) error {
		item, d, err := b.dedup.ResolveReviewTx(ctx, tx, reviewID, linkTo)
		if err != nil {
			return err
		}
		batch := remote.ImportBatch{
			Source: item.Candidate.Source,
			Items: []remote.ImportItem{{
				Candidate: item.Candidate,
				Outcome:   d.Outcome,
				LinkedID:  d.MatchedID,
			}},
		}
		prepared, err := b.queue.Prepare(models.OpImportBatch, "review:"+item.ID, "", batch)
		if err != nil {
			return err
		}
		op, err = b.queue.EnqueueTx(ctx, tx, prepared)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve review %s: %w", reviewID, err)
	}
	b.queue.Announce(op)
	return op, nil
}

// Clear drops every buffered entry
func (b *Buffer) Clear(ctx context.Context) error {
	return b.repo.ClearNamespace(ctx, repository.NSImport)
}
