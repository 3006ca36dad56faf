package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/amishk599/jobalert/internal/model"
)

func newTestGoogle(srv *httptest.Server) *GoogleJobsAdapter {
	a := NewGoogleJobsAdapter("test-key", GoogleJobsOptions{}, redirectClient(srv))
	a.now = fixedClock
	return a
}

func TestGoogleSearch_Success(t *testing.T) {
	payload := `{
		"jobs_results": [
			{
				"job_id": "g-1",
				"title": "Secrétaire médicale",
				"company_name": "Clinique du Lac",
				"location": "Lausanne, Suisse",
				"description": "Poste à 80%",
				"share_link": "https://g.co/jobs/1",
				"detected_extensions": {"posted_at": "2 days ago"}
			},
			{
				"title": "Assistante administrative",
				"company_name": "Acme SA",
				"location": "Morges",
				"apply_options": [{"link": "https://acme.ch/apply"}],
				"detected_extensions": {}
			}
		]
	}`
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		if r.URL.Query().Get("engine") != "google_jobs" || r.URL.Query().Get("hl") != "fr" {
			t.Errorf("unexpected query params: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	jobs, err := newTestGoogle(srv).Search(context.Background(), model.Query{
		Keywords:  []string{"secrétaire"},
		Locations: []string{"Vaud"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "secrétaire jobs in Vaud Switzerland" {
		t.Errorf("q = %q", gotQuery)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	first := jobs[0]
	if first.ID != "g-1" || first.URL != "https://g.co/jobs/1" || first.Source != model.SourceGoogle {
		t.Errorf("unexpected first job: %+v", first)
	}
	if !first.PostedAt.Equal(fixedNow.AddDate(0, 0, -2)) {
		t.Errorf("PostedAt = %v", first.PostedAt)
	}

	second := jobs[1]
	if second.ID != "https://acme.ch/apply" {
		t.Errorf("expected link fallback id, got %q", second.ID)
	}
	if !second.PostedAt.Equal(fixedNow) {
		t.Errorf("missing date should default to now, got %v", second.PostedAt)
	}
}

func TestGoogleSearch_OneRequestPerPair(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"jobs_results": [{"job_id": "same", "title": "x"}]}`))
	}))
	defer srv.Close()

	jobs, err := newTestGoogle(srv).Search(context.Background(), model.Query{
		Keywords:  []string{"a", "b"},
		Locations: []string{"Vaud", "Genève"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("expected 4 requests, got %d", calls.Load())
	}
	if len(jobs) != 1 {
		t.Errorf("expected duplicates collapsed to 1 job, got %d", len(jobs))
	}
}

func TestGoogleSearch_NoResultsIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "Google hasn't returned any results for this query."}`))
	}))
	defer srv.Close()

	jobs, err := newTestGoogle(srv).Search(context.Background(), model.Query{Keywords: []string{"x"}, Locations: []string{"y"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
}

func TestGoogleSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestGoogle(srv).Search(context.Background(), model.Query{Keywords: []string{"x"}, Locations: []string{"y"}})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests || httpErr.RetryAfter.Seconds() != 7 {
		t.Errorf("unexpected HTTPError: %+v", httpErr)
	}
}
