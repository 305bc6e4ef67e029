// Package video records match video on-device and uploads it to remote
// storage once connectivity allows.
package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
)

// ErrRecording is returned when a recording is already active
var ErrRecording = errors.Conflict("a recording is already in progress")

// ErrNotRecording is returned when no recording is active
var ErrNotRecording = errors.Conflict("no recording in progress")

// Store is the persistence the video pipeline needs
type Store interface {
	repository.VideoRepository
	Delete(ctx context.Context, ns repository.Namespace, id string) error
	WithTx(ctx context.Context, fn func(tx repository.Store) error) error
}

type recording struct {
	asset   models.VideoAsset
	started time.Time
}

// Recorder writes a single active recording to chunk files under dir.
type Recorder struct {
	dir   string
	repo  Store
	queue *syncqueue.Queue
	log   logger.Logger
	now   func() time.Time

	mu     sync.Mutex
	active *recording
}

// NewRecorder creates a recorder storing chunks under dataDir/videos
func NewRecorder(dataDir string, repo Store, queue *syncqueue.Queue, log logger.Logger, b *bus.Bus) *Recorder {
	r := &Recorder{
		dir:   filepath.Join(dataDir, "videos"),
		repo:  repo,
		queue: queue,
		log:   log,
		now:   time.Now,
	}
	if b != nil {
		b.Subscribe(bus.EventMatchIDRewritten, func(e bus.Event) error {
			p, ok := e.Payload.(map[string]string)
			if !ok {
				return nil
			}
			r.rebind(p["old_id"], p["new_id"])
			return nil
		})
	}
	return r
}

// Start begins recording for matchID. The asset is persisted immediately so
// chunks survive a crash.
func (r *Recorder) Start(ctx context.Context, matchID string) (*models.VideoAsset, error) {
	if matchID == "" {
		return nil, errors.InvalidInput("match id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, ErrRecording
	}

	now := r.now()
	asset := models.VideoAsset{
		ID:         uuid.NewString(),
		MatchID:    matchID,
		Chunks:     []string{},
		SyncStatus: models.VideoUnsynced,
		Phase:      models.PhaseNone,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	if err := os.MkdirAll(r.assetDir(asset.ID), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create video directory: %w", err)
	}
	if err := r.repo.SaveVideo(ctx, &asset); err != nil {
		return nil, err
	}

	r.active = &recording{asset: asset, started: now}
	r.log.Info("Recording started", "asset_id", asset.ID, "match_id", matchID)
	out := asset
	return &out, nil
}

// WriteChunk appends one chunk to the active recording.
func (r *Recorder) WriteChunk(ctx context.Context, data []byte) (*models.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, ErrNotRecording
	}
	if len(data) == 0 {
		return nil, errors.InvalidInput("chunk is empty")
	}

	a := &r.active.asset
	path := filepath.Join(r.assetDir(a.ID), fmt.Sprintf("chunk-%05d.bin", len(a.Chunks)))
	if err := writeSynced(path, data); err != nil {
		return nil, fmt.Errorf("failed to write chunk: %w", err)
	}

	a.Chunks = append(a.Chunks, path)
	a.Size += int64(len(data))
	a.UpdatedAt = r.now()
	err := r.repo.WithTx(ctx, func(tx repository.Store) error {
		stored, err := tx.GetVideo(ctx, a.ID)
		if err != nil {
			return err
		}
		a.MatchID = stored.MatchID
		return tx.SaveVideo(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	out := *a
	out.Chunks = append([]string(nil), a.Chunks...)
	return &out, nil
}

// Stop finishes the active recording and queues its upload in the same
// transaction. An empty recording is discarded.
func (r *Recorder) Stop(ctx context.Context) (*models.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, ErrNotRecording
	}
	rec := r.active

	if len(rec.asset.Chunks) == 0 {
		if err := r.repo.Delete(ctx, repository.NSVideo, rec.asset.ID); err != nil {
			return nil, err
		}
		os.RemoveAll(r.assetDir(rec.asset.ID))
		r.active = nil
		return nil, errors.Validation("recording contains no video")
	}

	var (
		asset models.VideoAsset
		op    *models.PendingOperation
	)
	err := r.repo.WithTx(ctx, func(tx repository.Store) error {
		stored, err := tx.GetVideo(ctx, rec.asset.ID)
		if err != nil {
			return err
		}
		// The stored copy carries any match id rewrite made while recording.
		asset = *stored
		now := r.now()
		asset.Chunks = rec.asset.Chunks
		asset.Size = rec.asset.Size
		asset.StoppedAt = &now
		asset.UpdatedAt = now
		if err := tx.SaveVideo(ctx, &asset); err != nil {
			return err
		}

		prepared, err := r.queue.Prepare(models.OpUploadVideo, asset.ID, asset.MatchID, syncqueue.UploadPayload{AssetID: asset.ID})
		if err != nil {
			return err
		}
		op, err = r.queue.EnqueueTx(ctx, tx, prepared)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finish recording: %w", err)
	}

	r.active = nil
	r.queue.Announce(op)
	r.log.Info("Recording stopped", "asset_id", asset.ID, "match_id", asset.MatchID,
		"chunks", len(asset.Chunks), "bytes", asset.Size)
	return &asset, nil
}

// Active returns the recording in progress, if any
func (r *Recorder) Active() (models.VideoAsset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return models.VideoAsset{}, false
	}
	return r.active.asset, true
}

// Offset is the time since the recording for matchID started, or zero when
// that match is not being recorded.
func (r *Recorder) Offset(matchID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.asset.MatchID != matchID {
		return 0
	}
	return r.now().Sub(r.active.started)
}

func (r *Recorder) rebind(oldID, newID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.asset.MatchID == oldID {
		r.active.asset.MatchID = newID
	}
}

func (r *Recorder) assetDir(id string) string {
	return filepath.Join(r.dir, id)
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
