package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

func TestHTTPClient_CreateMatch_SendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/matches" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Errorf("Idempotency-Key = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var p MatchPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if p.LocalID != "tmp-1" || p.FinalScoreFor != 2 {
			t.Errorf("payload = %+v", p)
		}
		json.NewEncoder(w).Encode(MatchAck{ID: "remote-1"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, logger.NewDiscard(), WithToken("secret"))
	m := models.Match{ID: "tmp-1", WrestlerID: "w1", OpponentID: "o1", Score: models.ScorePair{For: 2, Against: 1}}
	ack, err := client.CreateMatch(context.Background(), "key-1", NewMatchPayload(m, nil))
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}
	if ack.ID != "remote-1" {
		t.Errorf("ack.ID = %q", ack.ID)
	}
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusConflict, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, logger.NewDiscard())
			err := client.SaveUpload(context.Background(), "k", SaveUploadRequest{MatchID: "m1"})
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v (err %v)", IsTransient(err), tt.transient, err)
			}
			if IsPermanent(err) == tt.transient {
				t.Errorf("IsPermanent = %v for status %d", IsPermanent(err), tt.status)
			}
			var se *StatusError
			if !errors.As(err, &se) || se.StatusCode != tt.status {
				t.Errorf("expected StatusError with %d, got %v", tt.status, err)
			}
		})
	}
}

func TestHTTPClient_ConnectionErrorIsTransient(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", logger.NewDiscard())
	err := client.Ping(context.Background())
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestHTTPClient_UnconfiguredIsTransient(t *testing.T) {
	client := NewHTTPClient("", logger.NewDiscard())
	if err := client.Ping(context.Background()); !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestHTTPClient_ListMatches_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "ended" || r.URL.Query().Get("weight_class") != "132" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []RemoteMatch{{ID: "m1", WeightClass: 132, Status: "ended"}},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, logger.NewDiscard())
	got, err := client.ListMatches(context.Background(), MatchFilter{Status: "ended", WeightClass: 132})
	if err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("got %+v", got)
	}
}

func TestHTTPClient_AppendEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/matches/m%201/events" && r.URL.Path != "/matches/m 1/events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Events []EventPayload `json:"events"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(EventsAck{Accepted: len(body.Events)})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, logger.NewDiscard())
	ack, err := client.AppendEvents(context.Background(), "k", "m 1", []EventPayload{{ID: "e1"}, {ID: "e2"}})
	if err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}
	if ack.Accepted != 2 {
		t.Errorf("Accepted = %d", ack.Accepted)
	}
}

func TestHTTPClient_RequestUploadURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/videos/upload-url" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["matchId"] != "m1" || body["fileName"] != "a.mp4" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(`{"uploadURL":"https://up.example/v9","videoId":"v9","streamURL":"https://stream.example/v9"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, logger.NewDiscard())
	target, err := client.RequestUploadURL(context.Background(), "k", "m1", "a.mp4")
	if err != nil {
		t.Fatalf("RequestUploadURL failed: %v", err)
	}
	if target.UploadURL != "https://up.example/v9" || target.VideoID != "v9" || target.StreamURL != "https://stream.example/v9" {
		t.Errorf("target = %+v", target)
	}
}

func TestHTTPClient_RequestUploadURL_MissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"videoId":"v9"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, logger.NewDiscard())
	if _, err := client.RequestUploadURL(context.Background(), "k", "m1", "a.mp4"); !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestHTTPClient_SaveUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/videos/save-upload" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "save-key" {
			t.Errorf("Idempotency-Key = %q", r.Header.Get("Idempotency-Key"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["matchId"] != "m1" || body["assetId"] != "v9" || body["streamUrl"] != "https://stream.example/v9" || body["fileSize"] != float64(11) {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, logger.NewDiscard())
	err := client.SaveUpload(context.Background(), "save-key", SaveUploadRequest{
		MatchID:   "m1",
		AssetID:   "v9",
		StreamURL: "https://stream.example/v9",
		FileSize:  11,
	})
	if err != nil {
		t.Fatalf("SaveUpload failed: %v", err)
	}
}

func TestHTTPClient_InvalidJSONIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, logger.NewDiscard())
	_, err := client.CreateMatch(context.Background(), "k", MatchPayload{})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestHTTPClient_BaseURL(t *testing.T) {
	client := NewHTTPClient("http://example.com", logger.NewDiscard())
	if client.BaseURL() != "http://example.com" {
		t.Errorf("BaseURL = %q", client.BaseURL())
	}
	client.SetBaseURL("http://other")
	if client.BaseURL() != "http://other" {
		t.Errorf("BaseURL = %q", client.BaseURL())
	}
}

func TestMockClient_IdempotentCreate(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	a1, err := m.CreateMatch(ctx, "k1", MatchPayload{LocalID: "tmp-1"})
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}
	a2, err := m.CreateMatch(ctx, "k1", MatchPayload{LocalID: "tmp-1"})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if a1.ID != a2.ID {
		t.Errorf("replay returned %q, want %q", a2.ID, a1.ID)
	}
	if m.MatchCount() != 1 {
		t.Errorf("MatchCount = %d, want 1", m.MatchCount())
	}
	if m.Calls(MethodCreateMatch) != 2 || m.Applied(MethodCreateMatch) != 1 {
		t.Errorf("calls=%d applied=%d", m.Calls(MethodCreateMatch), m.Applied(MethodCreateMatch))
	}
}

func TestMockClient_LostAckThenReplay(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	ack, _ := m.CreateMatch(ctx, "create", MatchPayload{})

	m.LoseAcks(MethodAppendEvents, 1)
	_, err := m.AppendEvents(ctx, "ev-1", ack.ID, []EventPayload{{ID: "e1"}})
	if !IsTransient(err) {
		t.Fatalf("expected transient lost ack, got %v", err)
	}
	got, err := m.AppendEvents(ctx, "ev-1", ack.ID, []EventPayload{{ID: "e1"}})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if got.Accepted != 1 {
		t.Errorf("replay Accepted = %d, want original 1", got.Accepted)
	}
	if n := len(m.Events(ack.ID)); n != 1 {
		t.Errorf("stored %d events, want 1", n)
	}
}

func TestMockClient_FailNextAndOffline(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	m.FailNext(MethodPing, NewStatusError("ping", 503, ""))
	if err := m.Ping(ctx); !IsTransient(err) {
		t.Errorf("expected injected 503, got %v", err)
	}
	if err := m.Ping(ctx); err != nil {
		t.Errorf("second ping should succeed: %v", err)
	}

	m.SetOffline(true)
	if err := m.Ping(ctx); !errors.Is(err, ErrOffline) {
		t.Errorf("expected ErrOffline, got %v", err)
	}
	m.SetOffline(false)
	if err := m.Ping(ctx); err != nil {
		t.Errorf("ping after reconnect: %v", err)
	}
}

func TestMockClient_UnknownMatchIsPermanent(t *testing.T) {
	m := NewMockClient()
	_, err := m.PatchMatch(context.Background(), "k", "missing", MatchPayload{})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestMockClient_ImportBatchAddsWrestlers(t *testing.T) {
	m := NewMockClient(WithWrestlers([]Wrestler{{ID: "w-0", Name: "Existing"}}))
	ack, err := m.ImportBatch(context.Background(), "imp", ImportBatch{Items: []ImportItem{
		{Candidate: models.ImportCandidate{Kind: "wrestler", Name: "New Kid"}, Outcome: models.OutcomeNew},
		{Candidate: models.ImportCandidate{Kind: "wrestler", Name: "Existing"}, Outcome: models.OutcomeMatched, LinkedID: "w-0"},
	}})
	if err != nil {
		t.Fatalf("ImportBatch failed: %v", err)
	}
	if len(ack.Results) != 2 || ack.Results[1].ID != "w-0" || ack.Results[0].ID == "" {
		t.Errorf("results = %+v", ack.Results)
	}
	roster, _ := m.ListWrestlers(context.Background())
	if len(roster) != 2 {
		t.Errorf("roster size = %d, want 2", len(roster))
	}
}
