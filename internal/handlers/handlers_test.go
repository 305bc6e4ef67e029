package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/thefortaiagency/aether-insight/internal/auth"
	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/dedup"
	"github.com/thefortaiagency/aether-insight/internal/handlers"
	"github.com/thefortaiagency/aether-insight/internal/importer"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/internal/scoring"
	"github.com/thefortaiagency/aether-insight/internal/services"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
	"github.com/thefortaiagency/aether-insight/internal/testutil"
	"github.com/thefortaiagency/aether-insight/internal/video"
	"github.com/thefortaiagency/aether-insight/internal/websocket"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

func createTestTemplatesFS() fstest.MapFS {
	return fstest.MapFS{
		"console.html": &fstest.MapFile{Data: []byte(`<html><body>{{.Title}}{{range .Actions}}[{{.}}]{{end}}</body></html>`)},
		"login.html":   &fstest.MapFile{Data: []byte(`<html><body>Login{{if .Error}} - {{.Error}}{{end}}</body></html>`)},
	}
}

// ==================== Test Setup ====================

type testSetup struct {
	repo       *repository.Repository
	client     *remote.MockClient
	services   handlers.Services
	settings   *services.SettingsService
	handlers   *handlers.Handlers
	router     http.Handler
	authCookie *http.Cookie
}

func newServices(t *testing.T, opts ...remote.MockOption) (*repository.Repository, *remote.MockClient, handlers.Services, *services.SettingsService, *services.SyncService) {
	t.Helper()
	repo := testutil.NewTestRepository(t)
	log := testutil.NewTestLogger()
	b := bus.New(log)

	opts = append(opts, remote.WithWrestlers([]remote.Wrestler{
		{ID: "w-1", Name: "Jose Garcia", WeightClass: 132},
		{ID: "w-2", Name: "Sam Lee", WeightClass: 132},
	}))
	client := remote.NewMockClient(opts...)
	q := syncqueue.New(repo, log, b)

	matches := services.NewMatchService(log, repo, q, b, scoring.DefaultRules())
	recorder := video.NewRecorder(t.TempDir(), repo, q, log, b)
	matches.SetOffsetProvider(recorder)
	uploader := video.NewUploader(repo, client, q, log, video.WithBus(b))
	replayer := syncqueue.NewReplayer(q, client, log,
		syncqueue.WithBus(b),
		syncqueue.WithRewriter(matches),
		syncqueue.WithUploader(uploader),
	)
	d := dedup.NewService(client, repo, b, log)

	settings := services.NewSettingsService(log, repo)
	settings.SetRemote(client)
	sync := services.NewSyncService(log, q, replayer, repo)

	svc := handlers.Services{
		Match:    matches,
		Sync:     sync,
		Video:    services.NewVideoService(log, repo, matches, recorder, uploader),
		Import:   services.NewImportService(log, importer.NewBuffer(repo, d, q, log), d),
		Settings: settings,
	}
	return repo, client, svc, settings, sync
}

func newTestSetup(t *testing.T, opts ...remote.MockOption) *testSetup {
	t.Helper()
	repo, client, svc, settings, _ := newServices(t, opts...)

	h := handlers.NewForTesting(svc)
	token, ok := h.Auth.Login("test-password")
	if !ok {
		t.Fatal("failed to log in")
	}

	return &testSetup{
		repo:       repo,
		client:     client,
		services:   svc,
		settings:   settings,
		handlers:   h,
		router:     h.Router(),
		authCookie: &http.Cookie{Name: auth.CookieName, Value: token},
	}
}

func newTestSetupWithTemplates(t *testing.T) *testSetup {
	t.Helper()
	repo, client, svc, settings, sync := newServices(t)

	hub := websocket.New(testutil.NewTestLogger(), sync)
	h, err := handlers.New(svc, createTestTemplatesFS(), handlers.NewStaticServer(fstest.MapFS{
		"css/console.css": &fstest.MapFile{Data: []byte("body{}")},
	}), auth.New("test-password"), hub, nil, handlers.NoopHTTPLogger{})
	if err != nil {
		t.Fatalf("failed to create handlers: %v", err)
	}
	token, _ := h.Auth.Login("test-password")

	return &testSetup{
		repo:       repo,
		client:     client,
		services:   svc,
		settings:   settings,
		handlers:   h,
		router:     h.Router(),
		authCookie: &http.Cookie{Name: auth.CookieName, Value: token},
	}
}

func (s *testSetup) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(s.authCookie)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, rec.Body.String())
	}
}

type matchBody struct {
	ID           string `json:"id"`
	WrestlerName string `json:"wrestler_name"`
	State        string `json:"state"`
	Status       string `json:"status"`
	Period       int    `json:"period"`
	EndReason    string `json:"end_reason"`
	WinnerID     string `json:"winner_id"`
	BloodTime    bool   `json:"blood_time"`
	Score        struct {
		For     int `json:"for"`
		Against int `json:"against"`
	} `json:"score"`
}

func (s *testSetup) createMatch(t *testing.T) matchBody {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/matches", map[string]interface{}{
		"wrestler_id":   "w-1",
		"wrestler_name": "Jose Garcia",
		"opponent_id":   "w-2",
		"opponent_name": "Sam Lee",
		"weight_class":  132,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create match: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var m matchBody
	decode(t, rec, &m)
	return m
}

// ==================== Construction ====================

func TestNew_WithValidTemplates(t *testing.T) {
	setup := newTestSetupWithTemplates(t)
	if setup.handlers == nil {
		t.Fatal("expected handlers to be created")
	}
	if setup.handlers.Hub == nil {
		t.Error("expected hub to be injected")
	}
}

func TestNew_WithMissingConsoleTemplate(t *testing.T) {
	templatesFS := fstest.MapFS{
		"login.html": &fstest.MapFile{Data: []byte(`<html><body>Login</body></html>`)},
	}

	h, err := handlers.New(handlers.Services{}, templatesFS, handlers.NewStaticServer(fstest.MapFS{}),
		auth.New("pw"), nil, nil, handlers.NoopHTTPLogger{})

	if err == nil {
		t.Fatal("expected error for missing template")
	}
	if h != nil {
		t.Error("expected nil handlers on error")
	}
	if !strings.Contains(err.Error(), "console template") {
		t.Errorf("expected error to mention 'console template', got: %v", err)
	}
}

func TestNew_WithInvalidTemplateContent(t *testing.T) {
	templatesFS := createTestTemplatesFS()
	templatesFS["login.html"] = &fstest.MapFile{Data: []byte(`{{if}}`)}

	_, err := handlers.New(handlers.Services{}, templatesFS, nil, auth.New("pw"), nil, nil, handlers.NoopHTTPLogger{})
	if err == nil || !strings.Contains(err.Error(), "login template") {
		t.Errorf("expected login template error, got: %v", err)
	}
}

func TestNewStaticServer(t *testing.T) {
	setup := newTestSetupWithTemplates(t)

	req := httptest.NewRequest(http.MethodGet, "/static/css/console.css", nil)
	rec := httptest.NewRecorder()
	setup.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "body{}" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestNewForTesting_NoTemplatesNeeded(t *testing.T) {
	h := handlers.NewForTesting(handlers.Services{})
	if h == nil || h.Auth == nil {
		t.Fatal("expected handlers with auth")
	}
	if h.Log.IsHTTPLoggingEnabled() {
		t.Error("expected HTTP logging to be disabled")
	}
}

// ==================== Console ====================

func TestConsole_RendersActions(t *testing.T) {
	setup := newTestSetupWithTemplates(t)

	req := httptest.NewRequest(http.MethodGet, "/console", nil)
	req.AddCookie(setup.authCookie)
	rec := httptest.NewRecorder()
	setup.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Aether Mat Console", "[takedown]", "[near_fall_4]", "[pin]"} {
		if !strings.Contains(body, want) {
			t.Errorf("console missing %q: %s", want, body)
		}
	}
}

func TestConsole_RequiresLogin(t *testing.T) {
	setup := newTestSetupWithTemplates(t)

	req := httptest.NewRequest(http.MethodGet, "/console", nil)
	rec := httptest.NewRecorder()
	setup.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Errorf("expected redirect to /login, got %d %s", rec.Code, rec.Header().Get("Location"))
	}
}

func TestIndex_RedirectsToConsole(t *testing.T) {
	setup := newTestSetup(t)

	rec := setup.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/console" {
		t.Errorf("expected redirect to /console, got %d %s", rec.Code, rec.Header().Get("Location"))
	}
}

func TestHealth(t *testing.T) {
	setup := newTestSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	setup.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := handlers.NewForTesting(handlers.Services{})
	h.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	if rec.Body.String() != "# metrics" {
		t.Errorf("unexpected metrics body %q", rec.Body.String())
	}
}

func TestAPI_RequiresAuth(t *testing.T) {
	setup := newTestSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/matches", nil)
	rec := httptest.NewRecorder()
	setup.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

// ==================== Settings ====================

func TestSettings_UpdateAndGet(t *testing.T) {
	setup := newTestSetup(t)

	token := "secret"
	rec := setup.do(t, http.MethodPut, "/api/settings", map[string]interface{}{
		"remote_url":   "https://api.aether.example/v1/",
		"remote_token": token,
		"base_url":     "http://10.0.0.5:8080",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = setup.do(t, http.MethodGet, "/api/settings", nil)
	var got map[string]interface{}
	decode(t, rec, &got)
	if got["remote_url"] != "https://api.aether.example/v1" {
		t.Errorf("remote_url = %v", got["remote_url"])
	}
	if got["remote_token_set"] != true {
		t.Errorf("remote_token_set = %v", got["remote_token_set"])
	}
	if strings.Contains(rec.Body.String(), token) {
		t.Error("settings response leaked the token")
	}
}

func TestSettings_InvalidURL(t *testing.T) {
	setup := newTestSetup(t)

	rec := setup.do(t, http.MethodPost, "/api/settings", map[string]string{"remote_url": "not a url"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestSettings_Reset(t *testing.T) {
	setup := newTestSetup(t)

	rec := setup.do(t, http.MethodPost, "/api/settings/reset", map[string]interface{}{"namespaces": []string{"import", "review"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res services.ResetResult
	decode(t, rec, &res)
	if len(res.Namespaces) != 2 {
		t.Errorf("namespaces = %v", res.Namespaces)
	}

	rec = setup.do(t, http.MethodPost, "/api/settings/reset", map[string]interface{}{"namespaces": []string{"match"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reset match: expected 400, got %d", rec.Code)
	}

	rec = setup.do(t, http.MethodPost, "/api/settings/reset", map[string]interface{}{"namespaces": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reset nothing: expected 400, got %d", rec.Code)
	}
}

// ==================== QR ====================

func TestMatchQR(t *testing.T) {
	setup := newTestSetup(t)
	m := setup.createMatch(t)

	rec := setup.do(t, http.MethodGet, "/api/matches/"+m.ID+"/qr", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("without base url: expected 422, got %d", rec.Code)
	}

	if err := setup.settings.SetBaseURL(context.Background(), "http://10.0.0.5:8080"); err != nil {
		t.Fatalf("SetBaseURL failed: %v", err)
	}
	rec = setup.do(t, http.MethodGet, "/api/matches/"+m.ID+"/qr", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("content type = %s", rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected a PNG body")
	}
}

func TestMatchQR_UnknownMatch(t *testing.T) {
	setup := newTestSetup(t)

	rec := setup.do(t, http.MethodGet, "/api/matches/tmp-missing/qr", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}
