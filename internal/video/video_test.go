package video

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
	"github.com/thefortaiagency/aether-insight/internal/testutil"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// uploadServer accepts multipart uploads and remembers the bytes
type uploadServer struct {
	*httptest.Server
	mu       sync.Mutex
	received [][]byte
	status   int
}

func newUploadServer(t *testing.T) *uploadServer {
	s := &uploadServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		s.mu.Lock()
		s.received = append(s.received, data)
		status := s.status
		s.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *uploadServer) uploads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received...)
}

type videoFixture struct {
	repo     *repository.Repository
	queue    *syncqueue.Queue
	client   *remote.MockClient
	recorder *Recorder
	uploader *Uploader
	bus      *bus.Bus
	server   *uploadServer
}

func newVideoFixture(t *testing.T) *videoFixture {
	t.Helper()
	f := &videoFixture{repo: testutil.NewTestRepository(t)}
	log := testutil.NewTestLogger()
	f.bus = bus.New(log)
	f.queue = syncqueue.New(f.repo, log, f.bus)
	f.server = newUploadServer(t)
	f.client = remote.NewMockClient(remote.WithUploadBase(f.server.URL))
	f.recorder = NewRecorder(t.TempDir(), f.repo, f.queue, log, f.bus)
	f.uploader = NewUploader(f.repo, f.client, f.queue, log, WithBus(f.bus))

	// the remote needs the match row before it accepts uploads
	f.client.CreateMatch(context.Background(), "create-m1", remote.MatchPayload{LocalID: "tmp-1"})
	return f
}

func (f *videoFixture) record(t *testing.T, matchID string, chunks ...string) *models.VideoAsset {
	t.Helper()
	ctx := context.Background()
	if _, err := f.recorder.Start(ctx, matchID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for _, c := range chunks {
		if _, err := f.recorder.WriteChunk(ctx, []byte(c)); err != nil {
			t.Fatalf("WriteChunk() error = %v", err)
		}
	}
	a, err := f.recorder.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	return a
}

func TestRecorder_StopPersistsAndEnqueues(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	a := f.record(t, "m-1", "abc", "defg")
	if a.Size != 7 || len(a.Chunks) != 2 || a.StoppedAt == nil {
		t.Fatalf("asset = %+v", a)
	}
	if a.SyncStatus != models.VideoUnsynced {
		t.Errorf("status = %s, want unsynced", a.SyncStatus)
	}
	for _, p := range a.Chunks {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("chunk %s missing: %v", p, err)
		}
	}

	stored, err := f.repo.GetVideo(ctx, a.ID)
	if err != nil || stored.StoppedAt == nil {
		t.Fatalf("stored = %+v err = %v", stored, err)
	}

	ops, _ := f.queue.List(ctx)
	if len(ops) != 1 || ops[0].Kind != models.OpUploadVideo || ops[0].MatchID != "m-1" {
		t.Errorf("ops = %+v", ops)
	}
}

func TestRecorder_States(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	if _, err := f.recorder.WriteChunk(ctx, []byte("x")); err != ErrNotRecording {
		t.Errorf("WriteChunk() without recording = %v", err)
	}
	if _, err := f.recorder.Stop(ctx); err != ErrNotRecording {
		t.Errorf("Stop() without recording = %v", err)
	}
	if _, err := f.recorder.Start(ctx, ""); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Start(\"\") = %v", err)
	}
	if _, err := f.recorder.Start(ctx, "m-1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.recorder.Start(ctx, "m-2"); err != ErrRecording {
		t.Errorf("second Start() = %v", err)
	}
	if _, ok := f.recorder.Active(); !ok {
		t.Error("expected active recording")
	}

	// an empty recording is discarded
	if _, err := f.recorder.Stop(ctx); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Stop() of empty recording = %v", err)
	}
	videos, _ := f.repo.ListVideos(ctx)
	if len(videos) != 0 {
		t.Errorf("videos = %d, want 0", len(videos))
	}
}

func TestRecorder_OffsetAndRebind(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	if f.recorder.Offset("tmp-a") != 0 {
		t.Error("offset without recording should be zero")
	}
	f.recorder.Start(ctx, "tmp-a")
	if f.recorder.Offset("other") != 0 {
		t.Error("offset for another match should be zero")
	}
	if f.recorder.Offset("tmp-a") < 0 {
		t.Error("offset should not be negative")
	}

	f.bus.Publish(bus.Event{
		Type:    bus.EventMatchIDRewritten,
		Payload: map[string]string{"old_id": "tmp-a", "new_id": "m-9"},
	})
	a, _ := f.recorder.Active()
	if a.MatchID != "m-9" {
		t.Errorf("active match = %s, want m-9", a.MatchID)
	}
}

func TestRecorder_ChunkKeepsRewrittenMatchID(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	if err := f.repo.SaveMatch(ctx, &models.Match{ID: "tmp-r"}); err != nil {
		t.Fatalf("SaveMatch() error = %v", err)
	}
	started, err := f.recorder.Start(ctx, "tmp-r")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.recorder.WriteChunk(ctx, []byte("abc")); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	// the store is re-keyed before the rewrite event reaches the recorder
	if err := f.repo.RewriteMatchID(ctx, "tmp-r", "m-5"); err != nil {
		t.Fatalf("RewriteMatchID() error = %v", err)
	}
	got, err := f.recorder.WriteChunk(ctx, []byte("defg"))
	if err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if got.MatchID != "m-5" {
		t.Errorf("returned match = %s, want m-5", got.MatchID)
	}
	stored, err := f.repo.GetVideo(ctx, started.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if stored.MatchID != "m-5" || len(stored.Chunks) != 2 {
		t.Errorf("stored = %+v, want match m-5 with 2 chunks", stored)
	}
}

func TestUploader_ThreePhases(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()

	var phases []models.UploadPhase
	f.bus.Subscribe(bus.EventUploadProgress, func(e bus.Event) error {
		phases = append(phases, e.Payload.(map[string]any)["phase"].(models.UploadPhase))
		return nil
	})

	a := f.record(t, "m-1", "hello ", "world")
	if err := f.uploader.Upload(ctx, a.ID); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	got, _ := f.repo.GetVideo(ctx, a.ID)
	if got.Phase != models.PhaseConfirmed || got.SyncStatus != models.VideoSynced {
		t.Errorf("asset = %+v", got)
	}
	if got.StreamURL == "" || got.RemoteAssetID == "" {
		t.Errorf("remote ids not recorded: %+v", got)
	}

	uploads := f.server.uploads()
	if len(uploads) != 1 || string(uploads[0]) != "hello world" {
		t.Errorf("server received %q", uploads)
	}
	saved := f.client.Uploads()
	if len(saved) != 1 || saved[0].FileSize != 11 || saved[0].AssetID != got.RemoteAssetID {
		t.Errorf("confirmed uploads = %+v", saved)
	}
	if _, err := os.Stat(a.Chunks[0]); !os.IsNotExist(err) {
		t.Error("chunks should be removed after confirmation")
	}

	want := []models.UploadPhase{models.PhaseURLIssued, models.PhaseTransferred, models.PhaseConfirmed}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phases = %v, want %v", phases, want)
		}
	}

	// a confirmed asset is left alone
	if err := f.uploader.Upload(ctx, a.ID); err != nil {
		t.Errorf("second Upload() error = %v", err)
	}
	if len(f.server.uploads()) != 1 {
		t.Error("confirmed asset was transferred again")
	}
}

func TestUploader_ResumesAfterFailedTransfer(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()
	a := f.record(t, "m-1", "data")

	f.server.mu.Lock()
	f.server.status = http.StatusBadGateway
	f.server.mu.Unlock()

	err := f.uploader.Upload(ctx, a.ID)
	if !remote.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	got, _ := f.repo.GetVideo(ctx, a.ID)
	if got.Phase != models.PhaseURLIssued || got.LastError == "" {
		t.Errorf("after failure asset = %+v", got)
	}

	f.server.mu.Lock()
	f.server.status = http.StatusOK
	f.server.mu.Unlock()

	if err := f.uploader.Upload(ctx, a.ID); err != nil {
		t.Fatalf("resume Upload() error = %v", err)
	}
	if n := f.client.Calls(remote.MethodRequestUploadURL); n != 1 {
		t.Errorf("upload URL requested %d times, want 1", n)
	}
	got, _ = f.repo.GetVideo(ctx, a.ID)
	if got.Phase != models.PhaseConfirmed {
		t.Errorf("phase = %s", got.Phase)
	}
}

func TestUploader_ConfirmFailureKeepsTransferred(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()
	a := f.record(t, "m-1", "data")

	f.client.FailNext(remote.MethodSaveUpload, remote.NewStatusError("save_upload", 503, ""))
	if err := f.uploader.Upload(ctx, a.ID); err == nil {
		t.Fatal("expected error")
	}
	got, _ := f.repo.GetVideo(ctx, a.ID)
	if got.Phase != models.PhaseTransferred || got.SyncStatus != models.VideoUploaded {
		t.Fatalf("asset = %+v", got)
	}

	n, err := f.uploader.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	got, _ = f.repo.GetVideo(ctx, a.ID)
	if got.Phase != models.PhaseConfirmed {
		t.Errorf("sweep should confirm transferred asset, phase = %s", got.Phase)
	}
	if len(f.server.uploads()) != 1 {
		t.Error("sweep must not transfer twice")
	}
}

func TestUploader_MissingAsset(t *testing.T) {
	f := newVideoFixture(t)
	err := f.uploader.Upload(context.Background(), "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestUploader_MissingChunkIsPermanent(t *testing.T) {
	f := newVideoFixture(t)
	ctx := context.Background()
	a := f.record(t, "m-1", "data")
	os.Remove(a.Chunks[0])

	err := f.uploader.Upload(ctx, a.ID)
	if !errors.Is(err, errors.ErrPermanent) {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestUploader_DrainedByReplayer(t *testing.T) {
	f := newVideoFixture(t)
	a := f.record(t, "m-1", "via replayer")

	replayer := syncqueue.NewReplayer(f.queue, f.client, testutil.NewTestLogger(), syncqueue.WithUploader(f.uploader))
	res, err := replayer.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("result = %+v", res)
	}
	got, _ := f.repo.GetVideo(context.Background(), a.ID)
	if got.SyncStatus != models.VideoSynced {
		t.Errorf("status = %s", got.SyncStatus)
	}
}

// fakeS3 implements manager.UploadAPIClient in memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return &s3.UploadPartOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3Transfer(t *testing.T) {
	store := &fakeS3{}
	tr := NewS3Transfer(store)

	err := tr.Transfer(context.Background(), "s3://match-video/m-1/clip.mp4", "clip.mp4", bytes.NewReader([]byte("frames")), 6)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if got := string(store.objects["match-video/m-1/clip.mp4"]); got != "frames" {
		t.Errorf("stored %q", got)
	}
}

func TestUploader_RoutesS3Destinations(t *testing.T) {
	f := newVideoFixture(t)
	store := &fakeS3{}
	f.uploader.s3 = NewS3Transfer(store)
	f.client = remote.NewMockClient(remote.WithUploadBase("s3://bucket"))
	f.client.CreateMatch(context.Background(), "create", remote.MatchPayload{})
	f.uploader.client = f.client

	a := f.record(t, "m-1", "s3 bytes")
	if err := f.uploader.Upload(context.Background(), a.ID); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(store.objects) != 1 {
		t.Errorf("s3 objects = %d, want 1", len(store.objects))
	}
	if len(f.server.uploads()) != 0 {
		t.Error("http transfer should not be used for s3 destinations")
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://bucket/a/b.mp4", "bucket", "a/b.mp4", false},
		{"s3://bucket/", "", "", true},
		{"https://bucket/a", "", "", true},
		{"s3:///a", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			bucket, key, err := ParseS3URL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("got %q %q", bucket, key)
			}
		})
	}
}

func TestS3Config_Enabled(t *testing.T) {
	if (S3Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !(S3Config{AccessKeyID: "a", SecretAccessKey: "b"}).Enabled() {
		t.Error("config with credentials should be enabled")
	}
}
