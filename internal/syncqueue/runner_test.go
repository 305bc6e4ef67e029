package syncqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/testutil"
)

func TestRunner_DrainsOnSchedule(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.createMatch("tmp-run")

	runner, err := NewRunner(f.replayer, f.bus, testutil.NewTestLogger(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	runner.Start()
	defer runner.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f.client.MatchCount() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduled drain never reached the remote")
}

func TestRunner_AddJob(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	runner, err := NewRunner(f.replayer, nil, testutil.NewTestLogger(), time.Hour)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	var runs atomic.Int32
	if err := runner.AddJob("sweep", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := runner.AddJob("bad", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("expected error for zero interval")
	}

	runner.Start()
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := runner.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if runs.Load() == 0 {
		t.Error("job never ran")
	}
}
