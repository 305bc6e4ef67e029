package video

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/metrics"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// Uploader runs the three-phase upload of a stopped recording: request a
// destination, transfer the bytes, confirm with the remote. Each completed
// phase is persisted so an interrupted upload resumes where it stopped.
type Uploader struct {
	repo     Store
	client   remote.Client
	queue    *syncqueue.Queue
	transfer Transfer
	s3       Transfer
	log      logger.Logger
	bus      *bus.Bus
	metrics  *metrics.Recorder
	now      func() time.Time
	group    singleflight.Group
}

// UploaderOption configures an Uploader
type UploaderOption func(*Uploader)

// WithTransfer replaces the HTTP transfer
func WithTransfer(t Transfer) UploaderOption {
	return func(u *Uploader) { u.transfer = t }
}

// WithS3Transfer handles s3:// destinations
func WithS3Transfer(t Transfer) UploaderOption {
	return func(u *Uploader) { u.s3 = t }
}

// WithBus publishes upload progress
func WithBus(b *bus.Bus) UploaderOption {
	return func(u *Uploader) { u.bus = b }
}

// WithMetrics records upload metrics
func WithMetrics(m *metrics.Recorder) UploaderOption {
	return func(u *Uploader) { u.metrics = m }
}

// NewUploader creates an uploader. queue is used by Sweep to requeue
// unfinished uploads.
func NewUploader(repo Store, client remote.Client, queue *syncqueue.Queue, log logger.Logger, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		repo:     repo,
		client:   client,
		queue:    queue,
		transfer: NewMultipartTransfer(nil),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload advances assetID through the remaining phases. Concurrent calls for
// the same asset share one run.
func (u *Uploader) Upload(ctx context.Context, assetID string) error {
	_, err, _ := u.group.Do(assetID, func() (any, error) {
		return nil, u.upload(ctx, assetID)
	})
	return err
}

func (u *Uploader) upload(ctx context.Context, assetID string) error {
	a, err := u.repo.GetVideo(ctx, assetID)
	if err == repository.ErrNotFound {
		return errors.NotFoundf("video asset %s not found", assetID)
	}
	if err != nil {
		return err
	}
	if a.StoppedAt == nil {
		return errors.Transient("recording still in progress", nil)
	}

	log := u.log.With("asset_id", a.ID, "match_id", a.MatchID)
	fileName := a.ID + ".mp4"

	if a.Phase == "" || a.Phase == models.PhaseNone {
		target, err := u.client.RequestUploadURL(ctx, phaseKey(a, "url"), a.MatchID, fileName)
		if err != nil {
			return u.fail(ctx, a, err)
		}
		a.UploadURL = target.UploadURL
		a.RemoteAssetID = target.VideoID
		a.StreamURL = target.StreamURL
		if err := u.advance(ctx, a, models.PhaseURLIssued, models.VideoUploading); err != nil {
			return err
		}
		log.Debug("Upload URL issued", "video_id", a.RemoteAssetID)
	}

	if a.Phase == models.PhaseURLIssued {
		body, closeAll, err := openChunks(a.Chunks)
		if err != nil {
			return u.fail(ctx, a, err)
		}
		err = u.transferFor(a.UploadURL).Transfer(ctx, a.UploadURL, fileName, body, a.Size)
		closeAll()
		if err != nil {
			return u.fail(ctx, a, err)
		}
		u.metrics.ObserveUploadBytes(a.Size)
		if err := u.advance(ctx, a, models.PhaseTransferred, models.VideoUploaded); err != nil {
			return err
		}
		log.Debug("Video transferred", "bytes", a.Size)
	}

	if a.Phase == models.PhaseTransferred {
		err := u.client.SaveUpload(ctx, phaseKey(a, "save"), remote.SaveUploadRequest{
			MatchID:   a.MatchID,
			AssetID:   a.RemoteAssetID,
			StreamURL: a.StreamURL,
			FileSize:  a.Size,
		})
		if err != nil {
			return u.fail(ctx, a, err)
		}
		dir := ""
		if len(a.Chunks) > 0 {
			dir = filepath.Dir(a.Chunks[0])
		}
		a.Chunks = nil
		if err := u.advance(ctx, a, models.PhaseConfirmed, models.VideoSynced); err != nil {
			return err
		}
		if dir != "" {
			if err := os.RemoveAll(dir); err != nil {
				log.Warn("Failed to remove uploaded chunks", "error", err)
			}
		}
		log.Info("Video upload confirmed", "stream_url", a.StreamURL)
	}
	return nil
}

func (u *Uploader) advance(ctx context.Context, a *models.VideoAsset, phase models.UploadPhase, status models.VideoSyncStatus) error {
	a.Phase = phase
	a.SyncStatus = status
	a.LastError = ""
	a.UpdatedAt = u.now()
	if err := u.repo.SaveVideo(ctx, a); err != nil {
		return err
	}
	u.metrics.ObserveUploadPhase(string(phase))
	u.bus.Publish(bus.Event{
		Type:    bus.EventUploadProgress,
		MatchID: a.MatchID,
		Payload: map[string]any{"asset_id": a.ID, "phase": phase, "status": status},
	})
	return nil
}

// fail records err on the asset and returns it unchanged for the replayer
// to classify.
func (u *Uploader) fail(ctx context.Context, a *models.VideoAsset, err error) error {
	a.LastError = err.Error()
	a.UpdatedAt = u.now()
	if saveErr := u.repo.SaveVideo(ctx, a); saveErr != nil {
		u.log.Error("Failed to record upload error", "asset_id", a.ID, "error", saveErr)
	}
	return err
}

func (u *Uploader) transferFor(dest string) Transfer {
	if strings.HasPrefix(dest, "s3://") && u.s3 != nil {
		return u.s3
	}
	return u.transfer
}

// Sweep requeues every stopped recording that has not been confirmed and
// finishes the ones whose bytes already reached storage. It returns the
// number of assets requeued.
func (u *Uploader) Sweep(ctx context.Context) (int, error) {
	assets, err := u.repo.ListVideos(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, a := range assets {
		if a.StoppedAt == nil || a.Phase == models.PhaseConfirmed {
			continue
		}
		if _, err := u.queue.Enqueue(ctx, models.OpUploadVideo, a.ID, a.MatchID, syncqueue.UploadPayload{AssetID: a.ID}); err != nil {
			return n, err
		}
		n++

		if a.Phase == models.PhaseTransferred && !models.IsTempID(a.MatchID) {
			if err := u.Upload(ctx, a.ID); err != nil {
				u.log.Debug("Sweep could not confirm upload", "asset_id", a.ID, "error", err)
			}
		}
	}
	return n, nil
}

// phaseKey is the idempotency key of one remote call of one upload
func phaseKey(a *models.VideoAsset, phase string) string {
	return syncqueue.IdempotencyKey(models.OpUploadVideo, a.ID+":"+phase, nil)
}

// openChunks opens every chunk file as one stream. A missing chunk cannot be
// recovered by retrying.
func openChunks(paths []string) (io.Reader, func(), error) {
	if len(paths) == 0 {
		return nil, func() {}, errors.Permanent("recording has no chunks", nil)
	}
	files := make([]*os.File, 0, len(paths))
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil, func() {}, errors.Permanent(fmt.Sprintf("chunk %s is missing", filepath.Base(p)), err)
			}
			return nil, func() {}, err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return io.MultiReader(readers...), closeAll, nil
}
