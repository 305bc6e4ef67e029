package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thefortaiagency/aether-insight/internal/logger"
)

// HTTPClient is a real HTTP client for the remote store
type HTTPClient struct {
	mu         sync.RWMutex
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logger.Logger
}

// HTTPOption configures an HTTPClient
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests. A zero limit disables limiting.
func WithRateLimit(limit rate.Limit, burst int) HTTPOption {
	return func(c *HTTPClient) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithToken sets the bearer token
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) { c.token = token }
}

// NewHTTPClient creates a new remote client. Requests default to 10/s with a
// burst of 20.
func NewHTTPClient(baseURL string, log logger.Logger, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured remote base URL
func (c *HTTPClient) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL updates the remote base URL
func (c *HTTPClient) SetBaseURL(url string) {
	c.mu.Lock()
	c.baseURL = url
	c.mu.Unlock()
}

// SetToken updates the API token
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *HTTPClient) settings() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL, c.token
}

// doRequest sends a JSON request and decodes a JSON response into out.
// Non-2xx statuses become *StatusError, connection failures *TransportError.
func (c *HTTPClient) doRequest(ctx context.Context, op, method, path, key string, in, out any) error {
	baseURL, token := c.settings()
	if baseURL == "" {
		return &TransportError{Op: op, Err: fmt.Errorf("remote url not configured")}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Op: op, Err: err}
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	reqURL := baseURL + path
	c.log.Debug("Remote request", "method", method, "url", reqURL, "op", op, "key", key)

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.log.Debug("Remote response", "op", op, "status", resp.StatusCode, "bytes", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewStatusError(op, resp.StatusCode, string(respBody))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		// A 2xx with an unreadable body may still have committed; replay is safe.
		return &TransportError{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}

// Ping checks that the remote is reachable
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.doRequest(ctx, "ping", http.MethodGet, "/health", "", nil, nil)
}

// CreateMatch inserts a match row and returns the remote id
func (c *HTTPClient) CreateMatch(ctx context.Context, key string, m MatchPayload) (*MatchAck, error) {
	var ack MatchAck
	if err := c.doRequest(ctx, "create_match", http.MethodPost, "/matches", key, m, &ack); err != nil {
		return nil, err
	}
	if ack.ID == "" {
		return nil, &TransportError{Op: "create_match", Err: fmt.Errorf("response missing id")}
	}
	return &ack, nil
}

// PatchMatch replaces the full state of a match row
func (c *HTTPClient) PatchMatch(ctx context.Context, key, id string, m MatchPayload) (*MatchAck, error) {
	var ack MatchAck
	path := "/matches/" + url.PathEscape(id)
	if err := c.doRequest(ctx, "update_match", http.MethodPatch, path, key, m, &ack); err != nil {
		return nil, err
	}
	if ack.ID == "" {
		ack.ID = id
	}
	return &ack, nil
}

// AppendEvents adds scoring events to a match
func (c *HTTPClient) AppendEvents(ctx context.Context, key, matchID string, events []EventPayload) (*EventsAck, error) {
	var ack EventsAck
	path := "/matches/" + url.PathEscape(matchID) + "/events"
	req := struct {
		Events []EventPayload `json:"events"`
	}{Events: events}
	if err := c.doRequest(ctx, "append_event", http.MethodPost, path, key, req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// RequestUploadURL issues a video upload destination
func (c *HTTPClient) RequestUploadURL(ctx context.Context, key, matchID, fileName string) (*UploadTarget, error) {
	var target UploadTarget
	req := uploadURLRequest{MatchID: matchID, FileName: fileName}
	if err := c.doRequest(ctx, "upload_url", http.MethodPost, "/videos/upload-url", key, req, &target); err != nil {
		return nil, err
	}
	if target.UploadURL == "" {
		return nil, &TransportError{Op: "upload_url", Err: fmt.Errorf("response missing uploadURL")}
	}
	return &target, nil
}

// SaveUpload confirms a completed video transfer
func (c *HTTPClient) SaveUpload(ctx context.Context, key string, req SaveUploadRequest) error {
	return c.doRequest(ctx, "save_upload", http.MethodPost, "/videos/save-upload", key, req, nil)
}

// ListWrestlers returns the remote roster
func (c *HTTPClient) ListWrestlers(ctx context.Context) ([]Wrestler, error) {
	var resp struct {
		Wrestlers []Wrestler `json:"wrestlers"`
	}
	if err := c.doRequest(ctx, "list_wrestlers", http.MethodGet, "/wrestlers", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Wrestlers, nil
}

// ListMatches returns remote match rows
func (c *HTTPClient) ListMatches(ctx context.Context, filter MatchFilter) ([]RemoteMatch, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.WeightClass > 0 {
		q.Set("weight_class", strconv.Itoa(filter.WeightClass))
	}
	path := "/matches"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Matches []RemoteMatch `json:"matches"`
	}
	if err := c.doRequest(ctx, "list_matches", http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// ImportBatch submits classified extension records
func (c *HTTPClient) ImportBatch(ctx context.Context, key string, batch ImportBatch) (*ImportAck, error) {
	var ack ImportAck
	if err := c.doRequest(ctx, "import_batch", http.MethodPost, "/import", key, batch, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

var _ Client = (*HTTPClient)(nil)
