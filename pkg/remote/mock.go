package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/models"
)

// Method names used for call counting and failure injection
const (
	MethodPing             = "Ping"
	MethodCreateMatch      = "CreateMatch"
	MethodPatchMatch       = "PatchMatch"
	MethodAppendEvents     = "AppendEvents"
	MethodRequestUploadURL = "RequestUploadURL"
	MethodSaveUpload       = "SaveUpload"
	MethodListWrestlers    = "ListWrestlers"
	MethodListMatches      = "ListMatches"
	MethodImportBatch      = "ImportBatch"
)

// ErrOffline is returned by every MockClient call while offline.
var ErrOffline = errors.New("network unreachable")

// MockClient is an in-memory remote store for testing. It honours
// idempotency keys the way the real store does: a replayed key returns the
// original response without applying the mutation again.
type MockClient struct {
	mu sync.Mutex

	baseURL string
	token   string
	offline bool

	matches    map[string]MatchPayload
	events     map[string][]EventPayload
	wrestlers  []Wrestler
	listed     []RemoteMatch
	uploads    []SaveUploadRequest
	imports    []ImportBatch
	uploadBase string

	responses map[string]any // idempotency key -> first response
	failNext  map[string][]error
	lostAcks  map[string]int
	calls     map[string]int
	applied   map[string]int
	nextID    int
}

// MockOption configures the mock client
type MockOption func(*MockClient)

// WithWrestlers sets the roster returned by ListWrestlers
func WithWrestlers(wrestlers []Wrestler) MockOption {
	return func(m *MockClient) {
		m.wrestlers = wrestlers
	}
}

// WithMatches sets the rows returned by ListMatches
func WithMatches(matches []RemoteMatch) MockOption {
	return func(m *MockClient) {
		m.listed = matches
	}
}

// WithFailures queues errors for the next calls to method
func WithFailures(method string, errs ...error) MockOption {
	return func(m *MockClient) {
		m.failNext[method] = append(m.failNext[method], errs...)
	}
}

// WithBaseURL sets the base URL
func WithBaseURL(url string) MockOption {
	return func(m *MockClient) {
		m.baseURL = url
	}
}

// WithUploadBase sets the prefix of issued upload URLs
func WithUploadBase(base string) MockOption {
	return func(m *MockClient) {
		m.uploadBase = base
	}
}

// WithOffline starts the mock unreachable
func WithOffline() MockOption {
	return func(m *MockClient) {
		m.offline = true
	}
}

// NewMockClient creates a new mock remote
func NewMockClient(opts ...MockOption) *MockClient {
	m := &MockClient{
		baseURL:    "http://mock.remote",
		uploadBase: "mock://upload",
		matches:    make(map[string]MatchPayload),
		events:     make(map[string][]EventPayload),
		responses:  make(map[string]any),
		failNext:   make(map[string][]error),
		lostAcks:   make(map[string]int),
		calls:      make(map[string]int),
		applied:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOffline toggles reachability
func (m *MockClient) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// FailNext queues errors for the next calls to method. The call fails before
// any mutation is applied.
func (m *MockClient) FailNext(method string, errs ...error) {
	m.mu.Lock()
	m.failNext[method] = append(m.failNext[method], errs...)
	m.mu.Unlock()
}

// LoseAcks makes the next n calls to method apply their mutation and then
// fail with a transient error, as if the response was lost in transit.
func (m *MockClient) LoseAcks(method string, n int) {
	m.mu.Lock()
	m.lostAcks[method] += n
	m.mu.Unlock()
}

// Calls returns how many times method was invoked
func (m *MockClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Applied returns how many times method actually mutated remote state
func (m *MockClient) Applied(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[method]
}

// MatchCount returns the number of stored match rows
func (m *MockClient) MatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.matches)
}

// Match returns a stored match row
func (m *MockClient) Match(id string) (MatchPayload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.matches[id]
	return p, ok
}

// MatchIDs returns the ids of stored match rows in sorted order
func (m *MockClient) MatchIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.matches))
	for id := range m.matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Events returns the events stored for a match
func (m *MockClient) Events(matchID string) []EventPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventPayload, len(m.events[matchID]))
	copy(out, m.events[matchID])
	return out
}

// Uploads returns confirmed video uploads
func (m *MockClient) Uploads() []SaveUploadRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SaveUploadRequest, len(m.uploads))
	copy(out, m.uploads)
	return out
}

// Imports returns received import batches
func (m *MockClient) Imports() []ImportBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ImportBatch, len(m.imports))
	copy(out, m.imports)
	return out
}

// BaseURL returns the configured base URL
func (m *MockClient) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseURL
}

// SetBaseURL updates the base URL
func (m *MockClient) SetBaseURL(url string) {
	m.mu.Lock()
	m.baseURL = url
	m.mu.Unlock()
}

// SetToken updates the token
func (m *MockClient) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// begin records the call and returns any injected failure. Must hold mu.
func (m *MockClient) begin(ctx context.Context, method string) error {
	m.calls[method]++
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: method, Err: err}
	}
	if m.offline {
		return &TransportError{Op: method, Err: ErrOffline}
	}
	if q := m.failNext[method]; len(q) > 0 {
		err := q[0]
		m.failNext[method] = q[1:]
		return err
	}
	return nil
}

// finish applies lost-ack injection after a mutation. Must hold mu.
func (m *MockClient) finish(method string) error {
	m.applied[method]++
	if m.lostAcks[method] > 0 {
		m.lostAcks[method]--
		return &TransportError{Op: method, Err: fmt.Errorf("connection reset after commit")}
	}
	return nil
}

// replay returns the cached response for key, if any. Must hold mu.
func (m *MockClient) replay(key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	r, ok := m.responses[key]
	return r, ok
}

func (m *MockClient) remember(key string, resp any) {
	if key != "" {
		m.responses[key] = resp
	}
}

// Ping checks that the mock is reachable
func (m *MockClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(ctx, MethodPing)
}

// CreateMatch stores a new match row with a remote-assigned id
func (m *MockClient) CreateMatch(ctx context.Context, key string, p MatchPayload) (*MatchAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, MethodCreateMatch); err != nil {
		return nil, err
	}
	if r, ok := m.replay(key); ok {
		ack := r.(MatchAck)
		return &ack, nil
	}

	m.nextID++
	id := fmt.Sprintf("m-%d", m.nextID)
	m.matches[id] = p
	ack := MatchAck{ID: id, UpdatedAt: time.Now()}
	m.remember(key, ack)
	if err := m.finish(MethodCreateMatch); err != nil {
		return nil, err
	}
	return &ack, nil
}

// PatchMatch replaces a stored match row
func (m *MockClient) PatchMatch(ctx context.Context, key, id string, p MatchPayload) (*MatchAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, MethodPatchMatch); err != nil {
		return nil, err
	}
	if r, ok := m.replay(key); ok {
		ack := r.(MatchAck)
		return &ack, nil
	}
	if _, ok := m.matches[id]; !ok {
		return nil, NewStatusError("update_match", 404, "match not found")
	}

	m.matches[id] = p
	ack := MatchAck{ID: id, UpdatedAt: time.Now()}
	m.remember(key, ack)
	if err := m.finish(MethodPatchMatch); err != nil {
		return nil, err
	}
	return &ack, nil
}

// AppendEvents stores events for a match. Events whose id is already stored
// are ignored.
func (m *MockClient) AppendEvents(ctx context.Context, key, matchID string, events []EventPayload) (*EventsAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, MethodAppendEvents); err != nil {
		return nil, err
	}
	if r, ok := m.replay(key); ok {
		ack := r.(EventsAck)
		return &ack, nil
	}
	if _, ok := m.matches[matchID]; !ok {
		return nil, NewStatusError("append_event", 404, "match not found")
	}

	seen := make(map[string]bool, len(m.events[matchID]))
	for _, e := range m.events[matchID] {
		seen[e.ID] = true
	}
	accepted := 0
	for _, e := range events {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		m.events[matchID] = append(m.events[matchID], e)
		accepted++
	}

	ack := EventsAck{Accepted: accepted}
	m.remember(key, ack)
	if err := m.finish(MethodAppendEvents); err != nil {
		return nil, err
	}
	return &ack, nil
}

// RequestUploadURL issues an upload destination under the upload base
func (m *MockClient) RequestUploadURL(ctx context.Context, key, matchID, fileName string) (*UploadTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, MethodRequestUploadURL); err != nil {
		return nil, err
	}
	if r, ok := m.replay(key); ok {
		t := r.(UploadTarget)
		return &t, nil
	}

	m.nextID++
	videoID := fmt.Sprintf("v-%d", m.nextID)
	t := UploadTarget{
		UploadURL: fmt.Sprintf("%s/%s/%s", m.uploadBase, videoID, fileName),
		VideoID:   videoID,
		StreamURL: fmt.Sprintf("https://stream.mock/%s", videoID),
	}
	m.remember(key, t)
	if err := m.finish(MethodRequestUploadURL); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveUpload records a confirmed upload
func (m *MockClient) SaveUpload(ctx context.Context, key string, req SaveUploadRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, MethodSaveUpload); err != nil {
		return err
	}
	if _, ok := m.replay(key); ok {
		return nil
	}
	if _, ok := m.matches[req.MatchID]; !ok {
		return NewStatusError("save_upload", 404, "match not found")
	}

	m.uploads = append(m.uploads, req)
	m.remember(key, struct{}{})
	return m.finish(MethodSaveUpload)
}

// ListWrestlers returns the configured roster
func (m *MockClient) ListWrestlers(ctx context.Context) ([]Wrestler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, MethodListWrestlers); err != nil {
		return nil, err
	}
	out := make([]Wrestler, len(m.wrestlers))
	copy(out, m.wrestlers)
	return out, nil
}

// ListMatches returns configured rows matching filter
func (m *MockClient) ListMatches(ctx context.Context, filter MatchFilter) ([]RemoteMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, MethodListMatches); err != nil {
		return nil, err
	}
	var out []RemoteMatch
	for _, rm := range m.listed {
		if filter.Status != "" && rm.Status != filter.Status {
			continue
		}
		if filter.WeightClass > 0 && rm.WeightClass != filter.WeightClass {
			continue
		}
		out = append(out, rm)
	}
	return out, nil
}

// ImportBatch records the batch. New wrestlers join the roster; matched
// items keep their linked id.
func (m *MockClient) ImportBatch(ctx context.Context, key string, batch ImportBatch) (*ImportAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, MethodImportBatch); err != nil {
		return nil, err
	}
	if r, ok := m.replay(key); ok {
		ack := r.(ImportAck)
		return &ack, nil
	}

	ack := ImportAck{Results: make([]ImportResult, 0, len(batch.Items))}
	for i, item := range batch.Items {
		res := ImportResult{Index: i, Outcome: item.Outcome, ID: item.LinkedID}
		if item.Outcome == models.OutcomeNew {
			m.nextID++
			res.ID = fmt.Sprintf("w-%d", m.nextID)
			if item.Candidate.Kind == "wrestler" {
				m.wrestlers = append(m.wrestlers, Wrestler{
					ID:          res.ID,
					Name:        item.Candidate.Name,
					TeamID:      item.Candidate.TeamID,
					WeightClass: item.Candidate.WeightClass,
				})
			}
		}
		ack.Results = append(ack.Results, res)
	}
	m.imports = append(m.imports, batch)
	m.remember(key, ack)
	if err := m.finish(MethodImportBatch); err != nil {
		return nil, err
	}
	return &ack, nil
}

var _ Client = (*MockClient)(nil)
