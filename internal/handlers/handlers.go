package handlers

import (
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/thefortaiagency/aether-insight/internal/auth"
	"github.com/thefortaiagency/aether-insight/internal/services"
	"github.com/thefortaiagency/aether-insight/internal/websocket"
)

// NewStaticServer creates a static file server from an fs.FS
func NewStaticServer(staticFS fs.FS) http.Handler {
	return http.FileServer(http.FS(staticFS))
}

// Templates holds all parsed HTML templates
type Templates struct {
	Console *template.Template
	Login   *template.Template
}

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	Match        services.MatchServicer
	Sync         services.SyncServicer
	Video        services.VideoServicer
	Import       services.ImportServicer
	Settings     services.SettingsServicer
	Auth         *auth.Auth
	Hub          *websocket.Hub
	Metrics      http.Handler
	Log          HTTPLogger
	templates    *Templates
	staticServer http.Handler
}

// Services groups the service layer handed to New
type Services struct {
	Match    services.MatchServicer
	Sync     services.SyncServicer
	Video    services.VideoServicer
	Import   services.ImportServicer
	Settings services.SettingsServicer
}

// HTTPLogger is an interface for loggers that support HTTP logging control
type HTTPLogger interface {
	IsHTTPLoggingEnabled() bool
}

// New creates a new Handlers instance with all dependencies
func New(
	svc Services,
	templatesFS fs.FS,
	staticServer http.Handler,
	operatorAuth *auth.Auth,
	hub *websocket.Hub,
	metrics http.Handler,
	log HTTPLogger,
) (*Handlers, error) {
	templates, err := loadTemplates(templatesFS)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return &Handlers{
		Match:        svc.Match,
		Sync:         svc.Sync,
		Video:        svc.Video,
		Import:       svc.Import,
		Settings:     svc.Settings,
		Auth:         operatorAuth,
		Hub:          hub,
		Metrics:      metrics,
		Log:          log,
		templates:    templates,
		staticServer: staticServer,
	}, nil
}

// NoopHTTPLogger is a test logger that always returns false for HTTP logging
type NoopHTTPLogger struct{}

func (NoopHTTPLogger) IsHTTPLoggingEnabled() bool { return false }

// NewForTesting creates a Handlers instance without loading templates (for testing API endpoints)
func NewForTesting(svc Services) *Handlers {
	return &Handlers{
		Match:    svc.Match,
		Sync:     svc.Sync,
		Video:    svc.Video,
		Import:   svc.Import,
		Settings: svc.Settings,
		Auth:     auth.New("test-password"),
		Log:      NoopHTTPLogger{},
	}
}

// loadTemplates parses all templates once at startup
func loadTemplates(templatesFS fs.FS) (*Templates, error) {
	t := &Templates{}
	var err error

	if t.Console, err = template.ParseFS(templatesFS, "console.html"); err != nil {
		return nil, fmt.Errorf("console template: %w", err)
	}
	if t.Login, err = template.ParseFS(templatesFS, "login.html"); err != nil {
		return nil, fmt.Errorf("login template: %w", err)
	}

	return t, nil
}
