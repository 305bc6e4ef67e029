package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// conditionalHTTPLogger only logs HTTP requests when HTTP logging is enabled
func (h *Handlers) conditionalHTTPLogger(next http.Handler) http.Handler {
	logger := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Log != nil && h.Log.IsHTTPLoggingEnabled() {
			logger.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r)
		}
	})
}

// Router returns a configured chi router with all routes
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.conditionalHTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Timeout(60 * time.Second))

	// Static files (served from embedded filesystem)
	if h.staticServer != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", h.staticServer))
	}

	r.Get("/", h.handleIndex)
	r.Get("/healthz", h.handleHealth)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	// Auth routes (public)
	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/api/login", h.handleAPILogin)

	// Console pages (protected)
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.RequireAuth)
		r.Get("/console", h.handleConsole)
		if h.Hub != nil {
			r.Get("/ws", h.Hub.ServeWs)
		}
	})

	// API (protected)
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.RequireAuthAPI)

		r.Get("/api/rules", h.handleGetRules)

		// Matches
		r.Get("/api/matches", h.handleListMatches)
		r.Post("/api/matches", h.handleCreateMatch)
		r.Get("/api/matches/{id}", h.handleGetMatch)
		r.Get("/api/matches/{id}/events", h.handleGetEvents)
		r.Get("/api/matches/{id}/stats", h.handleGetStats)
		r.Get("/api/matches/{id}/qr", h.handleMatchQR)
		r.Post("/api/matches/{id}/score", h.handleScore)
		r.Post("/api/matches/{id}/clock/{op}", h.handleClock)
		r.Post("/api/matches/{id}/flags", h.handleFlags)
		r.Post("/api/matches/{id}/end", h.handleEndMatch)

		// Sync queue
		r.Get("/api/sync/status", h.handleSyncStatus)
		r.Post("/api/sync/now", h.handleSyncNow)
		r.Get("/api/sync/ops", h.handleListOperations)
		r.Post("/api/sync/retry/{id}", h.handleRetryOperation)
		r.Post("/api/sync/retry-all", h.handleRetryAll)
		r.Get("/api/sync/storage", h.handleStorageUsage)

		// Video
		r.Get("/api/videos", h.handleListVideos)
		r.Post("/api/videos", h.handleStartRecording)
		r.Get("/api/videos/active", h.handleActiveRecording)
		r.Post("/api/videos/chunk", h.handleWriteChunk)
		r.Post("/api/videos/stop", h.handleStopRecording)
		r.Post("/api/videos/sweep", h.handleSweepVideos)
		r.Get("/api/videos/{id}", h.handleGetVideo)

		// Extension imports
		r.Get("/api/imports", h.handleListImports)
		r.Post("/api/imports", h.handleAddImports)
		r.Delete("/api/imports", h.handleClearImports)
		r.Post("/api/imports/classify", h.handleClassify)
		r.Post("/api/imports/flush", h.handleFlushImports)
		r.Get("/api/reviews", h.handleListReviews)
		r.Post("/api/reviews/{id}/resolve", h.handleResolveReview)

		// Settings
		r.Get("/api/settings", h.handleGetSettings)
		r.Post("/api/settings", h.handleUpdateSettings)
		r.Put("/api/settings", h.handleUpdateSettings)
		r.Post("/api/settings/reset", h.handleReset)
	})

	return r
}
