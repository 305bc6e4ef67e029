package app

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thefortaiagency/aether-insight/internal/auth"
	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/config"
	"github.com/thefortaiagency/aether-insight/internal/dedup"
	"github.com/thefortaiagency/aether-insight/internal/handlers"
	"github.com/thefortaiagency/aether-insight/internal/importer"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/metrics"
	"github.com/thefortaiagency/aether-insight/internal/realtime"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/scoring"
	"github.com/thefortaiagency/aether-insight/internal/services"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
	"github.com/thefortaiagency/aether-insight/internal/video"
	"github.com/thefortaiagency/aether-insight/internal/websocket"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// StatusInterval is how often the hub pushes sync status to consoles
const StatusInterval = 5 * time.Second

// App holds all application dependencies
type App struct {
	log      logger.Logger
	handlers *handlers.Handlers
	repo     *repository.Repository
	runner   *syncqueue.Runner
	consumer *realtime.Consumer
	cancel   context.CancelFunc
	closing  sync.Once
}

// New creates and initializes a new application instance. client is the
// remote store; when it also accepts url and token changes the settings
// API is wired to it.
func New(log logger.Logger, cfg *config.Config, rules scoring.Rules, client remote.Client, templatesFS, staticFS fs.FS, operatorAuth *auth.Auth) (*App, error) {
	repo, err := repository.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{log: log, repo: repo, cancel: cancel}
	fail := func(err error) (*App, error) {
		cancel()
		if a.runner != nil {
			a.runner.Stop()
		}
		repo.Close()
		return nil, err
	}

	b := bus.New(log)
	m := metrics.NewRecorder()

	settingsService := services.NewSettingsService(log, repo)
	if rc, ok := client.(services.RemoteConfigurer); ok {
		settingsService.SetRemote(rc)
		if err := settingsService.ApplyStored(ctx); err != nil {
			log.Warn("Failed to apply stored remote settings", "error", err)
		}
	}

	queue := syncqueue.New(repo, log, b)
	if _, err := queue.Recover(ctx); err != nil {
		return fail(fmt.Errorf("failed to recover sync queue: %w", err))
	}

	matchService := services.NewMatchService(log, repo, queue, b, rules)
	matchService.SetMetrics(m)

	recorder := video.NewRecorder(cfg.VideoDir(), repo, queue, log, b)
	matchService.SetOffsetProvider(recorder)

	uploaderOpts := []video.UploaderOption{
		video.WithTransfer(video.NewMultipartTransfer(&http.Client{Timeout: 10 * time.Minute})),
		video.WithBus(b),
		video.WithMetrics(m),
	}
	s3cfg := video.S3Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	}
	if s3cfg.Enabled() {
		s3Client, err := video.NewS3Client(ctx, s3cfg)
		if err != nil {
			return fail(fmt.Errorf("failed to create s3 client: %w", err))
		}
		uploaderOpts = append(uploaderOpts, video.WithS3Transfer(video.NewS3Transfer(s3Client)))
	}
	uploader := video.NewUploader(repo, client, queue, log, uploaderOpts...)

	replayCfg := syncqueue.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		replayCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Concurrency > 0 {
		replayCfg.Concurrency = cfg.Concurrency
	}
	replayer := syncqueue.NewReplayer(queue, client, log,
		syncqueue.WithConfig(replayCfg),
		syncqueue.WithBus(b),
		syncqueue.WithMetrics(m),
		syncqueue.WithRewriter(matchService),
		syncqueue.WithUploader(uploader),
	)

	syncService := services.NewSyncService(log, queue, replayer, repo)
	videoService := services.NewVideoService(log, repo, matchService, recorder, uploader)

	a.runner, err = syncqueue.NewRunner(replayer, b, log, cfg.SyncInterval)
	if err != nil {
		return fail(err)
	}
	if err := a.runner.AddJob("upload-sweep", cfg.SweepInterval, func(ctx context.Context) error {
		_, err := videoService.Sweep(ctx)
		return err
	}); err != nil {
		return fail(err)
	}

	dedupService := dedup.NewService(client, repo, b, log)
	buffer := importer.NewBuffer(repo, dedupService, queue, log)
	importService := services.NewImportService(log, buffer, dedupService)

	// Remote changes to open matches
	realtime.NewMerger(matchService, b, log)
	a.consumer = realtime.NewConsumer(realtime.Config{URL: cfg.RealtimeURL, Token: cfg.RemoteToken}, b, log, m)
	b.SubscribeMany(func(e bus.Event) error {
		if e.MatchID == "" {
			return nil
		}
		return a.consumer.Watch(e.MatchID)
	}, bus.EventMatchUpdated, bus.EventMatchIDRewritten)

	hub := websocket.New(log, syncService)
	hub.Start()
	hub.Subscribe(b)

	h, err := handlers.New(
		handlers.Services{
			Match:    matchService,
			Sync:     syncService,
			Video:    videoService,
			Import:   importService,
			Settings: settingsService,
		},
		templatesFS,
		handlers.NewStaticServer(staticFS),
		operatorAuth,
		hub,
		m.Handler(),
		log,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize handlers: %w", err))
	}
	a.handlers = h

	// Background work starts only once everything is wired
	if _, err := matchService.Restore(ctx); err != nil {
		log.Warn("Failed to restore matches", "error", err)
	}
	if err := a.consumer.Watch(matchService.OpenMatchIDs()...); err != nil {
		log.Warn("Failed to watch open matches", "error", err)
	}
	go matchService.RunClock(ctx)
	go hub.StartStatusBroadcast(ctx, StatusInterval)
	go a.consumer.Run(ctx)
	a.runner.Start()

	return a, nil
}

// Router returns the configured HTTP router
func (a *App) Router() chi.Router {
	return a.handlers.Router()
}

// Close performs graceful shutdown of app resources
func (a *App) Close() {
	a.closing.Do(a.close)
}

func (a *App) close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.runner != nil {
		if err := a.runner.Stop(); err != nil {
			a.log.Warn("Failed to stop sync runner", "error", err)
		}
	}
	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

// Run starts the HTTP server
func (a *App) Run(addr string) error {
	// Set default base URL if not configured, using detected LAN IP
	ip := getPreferredIP(realNetworkProvider{})
	baseURL := fmt.Sprintf("http://%s%s", ip, addr)
	a.setDefaultBaseURL(baseURL)

	a.log.Info("Server starting", "url", baseURL)
	a.log.Info("Console URL", "url", baseURL+"/console")
	return http.ListenAndServe(addr, a.Router())
}

// setDefaultBaseURL sets the base URL setting if not already configured
// or if current value uses localhost (which isn't useful for QR codes)
func (a *App) setDefaultBaseURL(baseURL string) {
	ctx := context.Background()
	existing, _ := a.repo.GetSetting(ctx, services.SettingBaseURL)

	// Set default if empty or if current value uses localhost
	needsUpdate := existing == "" || strings.Contains(existing, "localhost")
	if needsUpdate {
		if err := a.repo.SetSetting(ctx, services.SettingBaseURL, baseURL); err != nil {
			a.log.Warn("Failed to set default base_url", "error", err)
		} else {
			a.log.Info("Default base URL set", "url", baseURL)
		}
	}
}

// networkInterface wraps net.Interface for testing
type networkInterface interface {
	Flags() net.Flags
	Addrs() ([]net.Addr, error)
}

// realInterface wraps a real net.Interface
type realInterface struct {
	iface net.Interface
}

func (r realInterface) Flags() net.Flags {
	return r.iface.Flags
}

func (r realInterface) Addrs() ([]net.Addr, error) {
	return r.iface.Addrs()
}

// networkProvider is an interface for getting network interfaces (for testing)
type networkProvider interface {
	Interfaces() ([]networkInterface, error)
}

// realNetworkProvider implements networkProvider using actual net package
type realNetworkProvider struct{}

func (realNetworkProvider) Interfaces() ([]networkInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	result := make([]networkInterface, len(ifaces))
	for i, iface := range ifaces {
		result[i] = realInterface{iface: iface}
	}
	return result, nil
}

// getPreferredIP returns the best IP address for LAN access.
// Prefers private network addresses (192.168.x.x, 10.x.x.x, 172.16-31.x.x).
// Falls back to localhost if no suitable address is found.
func getPreferredIP(provider networkProvider) string {
	ifaces, err := provider.Interfaces()
	if err != nil {
		return "localhost"
	}

	var candidates []net.IP

	for _, iface := range ifaces {
		// Skip down, loopback, and point-to-point interfaces
		flags := iface.Flags()
		if flags&net.FlagUp == 0 || flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			// Only consider IPv4 addresses
			if ip == nil || ip.To4() == nil {
				continue
			}

			// Skip loopback
			if ip.IsLoopback() {
				continue
			}

			candidates = append(candidates, ip)
		}
	}

	// Prefer private network addresses
	for _, ip := range candidates {
		ipStr := ip.String()
		if strings.HasPrefix(ipStr, "192.168.") ||
			strings.HasPrefix(ipStr, "10.") ||
			isPrivate172(ip) {
			return ipStr
		}
	}

	// Fall back to any non-loopback if no private address found
	if len(candidates) > 0 {
		return candidates[0].String()
	}

	return "localhost"
}

// isPrivate172 checks if IP is in 172.16.0.0/12 range
func isPrivate172(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31
	}
	return false
}
