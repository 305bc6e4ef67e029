package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/auth"
	"github.com/thefortaiagency/aether-insight/internal/config"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/scoring"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBPath:        ":memory:",
		DataDir:       t.TempDir(),
		SyncInterval:  time.Hour,
		SweepInterval: time.Hour,
		MaxAttempts:   3,
		Concurrency:   2,
	}
}

func TestNew_InitializesApp(t *testing.T) {
	app, err := New(logger.NewDiscard(), testConfig(t), scoring.DefaultRules(), remote.NewMockClient(),
		createTestTemplatesFS(), fstest.MapFS{}, auth.New("test-password"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer app.Close()

	if app.handlers == nil {
		t.Error("expected handlers to be initialized")
	}
	if app.repo == nil {
		t.Error("expected repo to be initialized")
	}
	if app.runner == nil {
		t.Error("expected sync runner to be initialized")
	}
	if app.cancel == nil {
		t.Error("expected cancel to be set")
	}
}

func TestNew_FailsWithBadDBPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = "/nonexistent/path/db.sqlite"

	_, err := New(logger.NewDiscard(), cfg, scoring.DefaultRules(), remote.NewMockClient(),
		createTestTemplatesFS(), fstest.MapFS{}, auth.New("test-password"))
	if err == nil {
		t.Error("expected error for invalid db path")
	}
}

func TestNew_FailsWithMissingTemplates(t *testing.T) {
	_, err := New(logger.NewDiscard(), testConfig(t), scoring.DefaultRules(), remote.NewMockClient(),
		fstest.MapFS{}, fstest.MapFS{}, auth.New("test-password"))
	if err == nil {
		t.Error("expected error for missing templates")
	}
}

func TestNew_FailsWithBadIntervals(t *testing.T) {
	cfg := testConfig(t)
	cfg.SweepInterval = 0

	_, err := New(logger.NewDiscard(), cfg, scoring.DefaultRules(), remote.NewMockClient(),
		createTestTemplatesFS(), fstest.MapFS{}, auth.New("test-password"))
	if err == nil {
		t.Error("expected error for zero sweep interval")
	}
}

func TestNew_AppliesStoredRemoteSettings(t *testing.T) {
	client := remote.NewMockClient()
	app := createTestAppWithClient(t, client)
	defer app.Close()

	rec := postJSON(t, app, "/api/settings", `{"remote_url":"https://remote.example.com","remote_token":"tok"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := client.BaseURL(); got != "https://remote.example.com" {
		t.Errorf("client base url = %q", got)
	}
}

func TestApp_Router_ReturnsRouter(t *testing.T) {
	app := createTestApp(t)
	defer app.Close()

	if app.Router() == nil {
		t.Fatal("expected router to be returned")
	}
}

func TestApp_Router_ServesRequests(t *testing.T) {
	app := createTestApp(t)
	defer app.Close()
	server := httptest.NewServer(app.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for /login, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for /metrics, got %d", resp.StatusCode)
	}
}

func TestApp_ScoresAndQueuesMatch(t *testing.T) {
	app := createTestApp(t)
	defer app.Close()

	rec := postJSON(t, app, "/api/matches", newMatchJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = getJSON(t, app, "/api/sync/ops")
	if rec.Code != http.StatusOK {
		t.Fatalf("ops: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "create_match") {
		t.Errorf("expected a queued create_match, got %s", rec.Body.String())
	}
}

func TestApp_RestoresMatchesOnRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = t.TempDir() + "/aether.db"

	first, err := New(logger.NewDiscard(), cfg, scoring.DefaultRules(), remote.NewMockClient(),
		createTestTemplatesFS(), fstest.MapFS{}, auth.New("test-password"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := postJSON(t, first, "/api/matches", newMatchJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	first.Close()

	second, err := New(logger.NewDiscard(), cfg, scoring.DefaultRules(), remote.NewMockClient(),
		createTestTemplatesFS(), fstest.MapFS{}, auth.New("test-password"))
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	defer second.Close()

	rec = getJSON(t, second, "/api/matches")
	if !strings.Contains(rec.Body.String(), "Sam Lee") {
		t.Errorf("expected restored match, got %s", rec.Body.String())
	}
}

func TestApp_Close_IsIdempotent(t *testing.T) {
	app := createTestApp(t)

	// Close should not panic
	app.Close()

	// Calling Close multiple times should be safe
	app.Close()
}

func TestIsPrivate172(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.15.0.1", false},
		{"172.32.0.1", false},
		{"192.168.1.1", false},
		{"::1", false},
		{"fe80::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivate172(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("isPrivate172(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
	if isPrivate172(nil) {
		t.Error("isPrivate172(nil) = true")
	}
}

func TestSetDefaultBaseURL_SetsWhenEmpty(t *testing.T) {
	app := createTestApp(t)
	defer app.Close()

	// Initially empty, should set
	app.setDefaultBaseURL("http://192.168.1.100:8080")

	// Verify it was set
	ctx := context.Background()
	val, err := app.repo.GetSetting(ctx, "base_url")
	if err != nil {
		t.Fatalf("failed to get setting: %v", err)
	}
	if val != "http://192.168.1.100:8080" {
		t.Errorf("expected base_url to be set, got: %s", val)
	}
}

func TestSetDefaultBaseURL_ReplacesLocalhost(t *testing.T) {
	app := createTestApp(t)
	defer app.Close()

	ctx := context.Background()

	// Set to localhost first
	err := app.repo.SetSetting(ctx, "base_url", "http://localhost:8080")
	if err != nil {
		t.Fatalf("failed to set initial setting: %v", err)
	}

	// Should replace localhost with real URL
	app.setDefaultBaseURL("http://192.168.1.100:8080")

	val, err := app.repo.GetSetting(ctx, "base_url")
	if err != nil {
		t.Fatalf("failed to get setting: %v", err)
	}
	if val != "http://192.168.1.100:8080" {
		t.Errorf("expected base_url to be replaced, got: %s", val)
	}
}

func TestSetDefaultBaseURL_DoesNotOverwriteValidURL(t *testing.T) {
	app := createTestApp(t)
	defer app.Close()

	ctx := context.Background()

	// Set to a valid URL first
	err := app.repo.SetSetting(ctx, "base_url", "http://192.168.1.50:8080")
	if err != nil {
		t.Fatalf("failed to set initial setting: %v", err)
	}

	// Should NOT replace valid URL
	app.setDefaultBaseURL("http://192.168.1.100:8080")

	val, err := app.repo.GetSetting(ctx, "base_url")
	if err != nil {
		t.Fatalf("failed to get setting: %v", err)
	}
	if val != "http://192.168.1.50:8080" {
		t.Errorf("expected base_url to remain unchanged, got: %s", val)
	}
}

func TestSetDefaultBaseURL_HandlesRepoError(t *testing.T) {
	app := createTestApp(t)
	app.Close()

	// Close the underlying database to force an error on SetSetting
	app.repo.DB().Close()

	// Should not panic even if repo is closed - just logs warning
	app.setDefaultBaseURL("http://192.168.1.100:8080")
}

type fakeInterface struct {
	flags net.Flags
	addrs []net.Addr
	err   error
}

func (f fakeInterface) Flags() net.Flags           { return f.flags }
func (f fakeInterface) Addrs() ([]net.Addr, error) { return f.addrs, f.err }

type fakeNetwork struct {
	ifaces []networkInterface
	err    error
}

func (f fakeNetwork) Interfaces() ([]networkInterface, error) { return f.ifaces, f.err }

func ipNet(s string) *net.IPNet {
	return &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(24, 32)}
}

func TestGetPreferredIP(t *testing.T) {
	up := net.FlagUp
	tests := []struct {
		name    string
		network fakeNetwork
		want    string
	}{
		{"interfaces error", fakeNetwork{err: net.ErrClosed}, "localhost"},
		{"addrs error", fakeNetwork{ifaces: []networkInterface{fakeInterface{flags: up, err: net.ErrClosed}}}, "localhost"},
		{"down interface skipped", fakeNetwork{ifaces: []networkInterface{fakeInterface{addrs: []net.Addr{ipNet("192.168.1.9")}}}}, "localhost"},
		{"loopback flag skipped", fakeNetwork{ifaces: []networkInterface{fakeInterface{flags: up | net.FlagLoopback, addrs: []net.Addr{ipNet("10.0.0.2")}}}}, "localhost"},
		{"ipaddr form", fakeNetwork{ifaces: []networkInterface{fakeInterface{flags: up, addrs: []net.Addr{&net.IPAddr{IP: net.ParseIP("192.168.1.100")}}}}}, "192.168.1.100"},
		{"public fallback", fakeNetwork{ifaces: []networkInterface{fakeInterface{flags: up, addrs: []net.Addr{ipNet("8.8.8.8")}}}}, "8.8.8.8"},
		{"private preferred", fakeNetwork{ifaces: []networkInterface{fakeInterface{flags: up, addrs: []net.Addr{ipNet("8.8.8.8"), ipNet("172.20.0.5")}}}}, "172.20.0.5"},
		{"loopback address skipped", fakeNetwork{ifaces: []networkInterface{fakeInterface{flags: up, addrs: []net.Addr{ipNet("127.0.0.1"), ipNet("192.168.1.50")}}}}, "192.168.1.50"},
		{"ipv6 ignored", fakeNetwork{ifaces: []networkInterface{fakeInterface{flags: up, addrs: []net.Addr{ipNet("fe80::1")}}}}, "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getPreferredIP(tt.network); got != tt.want {
				t.Errorf("getPreferredIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetPreferredIP_RealNetwork(t *testing.T) {
	ip := getPreferredIP(realNetworkProvider{})
	if ip == "" {
		t.Fatal("IP should never be empty")
	}
	if ip != "localhost" && net.ParseIP(ip).To4() == nil {
		t.Errorf("expected IPv4 address or localhost, got %q", ip)
	}
}

func TestApp_Run_Integration(t *testing.T) {
	app := createTestApp(t)
	defer app.Close()

	// Start server in background on random port
	done := make(chan error, 1)
	go func() {
		// This will block, so we run it in a goroutine
		done <- app.Run(":0")
	}()

	// Give server time to start (or fail)
	select {
	case err := <-done:
		// If it returns immediately, it's likely a bind error (port already in use)
		// which is fine for testing - we just want to exercise the code
		if err != nil {
			t.Logf("Run returned (expected): %v", err)
		}
	case <-time.After(100 * time.Millisecond):
		// Server started successfully, close the app to stop it
		app.Close()
	}
}

// Helper functions

func createTestTemplatesFS() fstest.MapFS {
	return fstest.MapFS{
		"console.html": &fstest.MapFile{
			Data: []byte(`<html><body>{{.Title}}</body></html>`),
		},
		"login.html": &fstest.MapFile{
			Data: []byte(`<html><body>Login {{.}}</body></html>`),
		},
	}
}

const newMatchJSON = `{"wrestler_id":"w-1","wrestler_name":"Sam Lee","opponent_name":"Chris Doe","weight_class":132}`

func createTestApp(t *testing.T) *App {
	t.Helper()
	return createTestAppWithClient(t, remote.NewMockClient())
}

func createTestAppWithClient(t *testing.T, client remote.Client) *App {
	t.Helper()
	app, err := New(logger.NewDiscard(), testConfig(t), scoring.DefaultRules(), client,
		createTestTemplatesFS(), fstest.MapFS{}, auth.New("test-password"))
	if err != nil {
		t.Fatalf("failed to create test app: %v", err)
	}
	return app
}

func authed(t *testing.T, app *App, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	token, ok := app.handlers.Auth.Login("test-password")
	if !ok {
		t.Fatal("login failed")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, app *App, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return authed(t, app, req)
}

func getJSON(t *testing.T, app *App, path string) *httptest.ResponseRecorder {
	t.Helper()
	return authed(t, app, httptest.NewRequest(http.MethodGet, path, nil))
}
