package syncqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/logger"
)

// Runner schedules periodic drains and background jobs.
type Runner struct {
	scheduler gocron.Scheduler
	replayer  *Replayer
	log       logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRunner creates a runner that drains every interval. A drain is also
// triggered whenever the remote comes back online.
func NewRunner(replayer *Replayer, b *bus.Bus, log logger.Logger, interval time.Duration) (*Runner, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		scheduler: s,
		replayer:  replayer,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := r.AddJob("sync-drain", interval, r.drain); err != nil {
		cancel()
		return nil, err
	}

	if b != nil {
		b.Subscribe(bus.EventConnectivityChanged, func(e bus.Event) error {
			payload, _ := e.Payload.(map[string]any)
			if online, _ := payload["online"].(bool); online && !replayer.Syncing() {
				go r.drain(r.ctx)
			}
			return nil
		})
	}
	return r, nil
}

// AddJob schedules fn every interval. Runs never overlap.
func (r *Runner) AddJob(name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := fn(r.ctx); err != nil && r.ctx.Err() == nil {
				r.log.Warn("Scheduled job failed", "job", name, "error", err)
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

func (r *Runner) drain(ctx context.Context) error {
	_, err := r.replayer.Drain(ctx)
	if err == ErrDrainInProgress {
		return nil
	}
	return err
}

// Start begins running scheduled jobs
func (r *Runner) Start() {
	r.scheduler.Start()
	r.log.Info("Sync runner started")
}

// Stop cancels running jobs and shuts the scheduler down
func (r *Runner) Stop() error {
	r.cancel()
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	r.log.Info("Sync runner stopped")
	return nil
}
