package handlers_test

import (
	"net/http"
	"testing"

	"github.com/thefortaiagency/aether-insight/internal/handlers"
	"github.com/thefortaiagency/aether-insight/internal/importer"
	"github.com/thefortaiagency/aether-insight/internal/models"
)

func TestImports_AddFlushResolve(t *testing.T) {
	setup := newTestSetup(t)

	rec := setup.do(t, http.MethodPost, "/api/imports", handlers.ImportRequest{
		Source: "trackwrestling",
		Candidates: []models.ImportCandidate{
			{Kind: "wrestler", Name: "José García"},
			{Kind: "wrestler", Name: "Jose Garsea"},
			{Kind: "wrestler", Name: "Chris Doe"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var added handlers.ImportAddResponse
	decode(t, rec, &added)
	if added.Added != 3 {
		t.Errorf("added = %d", added.Added)
	}

	rec = setup.do(t, http.MethodGet, "/api/imports", nil)
	var list handlers.ImportsResponse
	decode(t, rec, &list)
	if len(list.Entries) != 3 || list.Entries[0].Source != "trackwrestling" {
		t.Fatalf("entries = %+v", list.Entries)
	}

	rec = setup.do(t, http.MethodPost, "/api/imports/flush", nil)
	var flushed importer.FlushResult
	decode(t, rec, &flushed)
	if flushed.Review != 1 || flushed.Flushed != 2 {
		t.Fatalf("flush = %+v", flushed)
	}

	rec = setup.do(t, http.MethodGet, "/api/reviews", nil)
	var reviews handlers.ReviewsResponse
	decode(t, rec, &reviews)
	if len(reviews.Reviews) != 1 {
		t.Fatalf("reviews = %+v", reviews.Reviews)
	}

	rec = setup.do(t, http.MethodPost, "/api/reviews/"+reviews.Reviews[0].ID+"/resolve", handlers.ResolveReviewRequest{LinkTo: "w-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = setup.do(t, http.MethodGet, "/api/reviews", nil)
	decode(t, rec, &reviews)
	if len(reviews.Reviews) != 0 {
		t.Errorf("reviews left = %d", len(reviews.Reviews))
	}
}

func TestImports_AddValidation(t *testing.T) {
	setup := newTestSetup(t)

	rec := setup.do(t, http.MethodPost, "/api/imports", handlers.ImportRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no candidates: expected 400, got %d", rec.Code)
	}

	rec = setup.do(t, http.MethodPost, "/api/imports", handlers.ImportRequest{
		Candidates: []models.ImportCandidate{{Kind: "coach", Name: "Pat"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind: expected 400, got %d", rec.Code)
	}
}

func TestImports_DefaultSourceAndClear(t *testing.T) {
	setup := newTestSetup(t)

	setup.do(t, http.MethodPost, "/api/imports", handlers.ImportRequest{
		Candidates: []models.ImportCandidate{{Name: "Pat Quinn"}},
	})
	rec := setup.do(t, http.MethodGet, "/api/imports", nil)
	var list handlers.ImportsResponse
	decode(t, rec, &list)
	if len(list.Entries) != 1 || list.Entries[0].Source != "extension" {
		t.Fatalf("entries = %+v", list.Entries)
	}

	rec = setup.do(t, http.MethodDelete, "/api/imports", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", rec.Code)
	}
	rec = setup.do(t, http.MethodGet, "/api/imports", nil)
	decode(t, rec, &list)
	if len(list.Entries) != 0 {
		t.Errorf("entries after clear = %d", len(list.Entries))
	}
}

func TestImports_Classify(t *testing.T) {
	setup := newTestSetup(t)

	rec := setup.do(t, http.MethodPost, "/api/imports/classify", handlers.ImportRequest{
		Candidates: []models.ImportCandidate{
			{Kind: "wrestler", Name: "Sam Lee"},
			{Kind: "wrestler", Name: "Chris Doe"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res handlers.ClassifyResponse
	decode(t, rec, &res)
	if len(res.Results) != 2 {
		t.Fatalf("results = %+v", res.Results)
	}
	if res.Results[0].Decision.Outcome != models.OutcomeMatched || res.Results[0].Decision.MatchedID != "w-2" {
		t.Errorf("first = %+v", res.Results[0].Decision)
	}
	if res.Results[1].Decision.Outcome != models.OutcomeNew {
		t.Errorf("second = %+v", res.Results[1].Decision)
	}

	rec = setup.do(t, http.MethodPost, "/api/imports/classify", handlers.ImportRequest{
		Candidates: []models.ImportCandidate{{Kind: "coach", Name: "Pat"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind: expected 400, got %d", rec.Code)
	}
}

func TestReviews_ResolveUnknown(t *testing.T) {
	setup := newTestSetup(t)

	rec := setup.do(t, http.MethodPost, "/api/reviews/nope/resolve", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
