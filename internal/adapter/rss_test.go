package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amishk599/jobalert/internal/model"
)

const jobsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Emplois Romandie</title>
  <item>
    <guid>feed-1</guid>
    <title>Secrétaire de direction</title>
    <link>https://emplois.example.ch/1</link>
    <category>Lausanne</category>
    <description>&lt;p&gt;Poste fixe&lt;/p&gt;</description>
    <pubDate>Sat, 06 Jan 2024 09:00:00 GMT</pubDate>
  </item>
  <item>
    <guid>feed-2</guid>
    <title>Mécanicien</title>
    <link>https://emplois.example.ch/2</link>
    <category>Lausanne</category>
  </item>
  <item>
    <guid>feed-3</guid>
    <title>Secrétaire</title>
    <link>https://emplois.example.ch/3</link>
    <category>Zürich</category>
  </item>
</channel>
</rss>`

func TestRSSSearch_FiltersLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(jobsFeed))
	}))
	defer srv.Close()

	a := NewRSSAdapter([]string{srv.URL + "/feed.xml"}, srv.Client())
	a.now = fixedClock

	jobs, err := a.Search(context.Background(), model.Query{
		Keywords:  []string{"secrétaire"},
		Locations: []string{"lausanne"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 matching job, got %d", len(jobs))
	}
	j := jobs[0]
	if j.ID != "feed-1" || j.Company != "Emplois Romandie" || j.Description != "Poste fixe" {
		t.Errorf("unexpected job: %+v", j)
	}
	if j.PostedAt.IsZero() || j.PostedAt.Equal(fixedNow) {
		t.Errorf("expected pubDate to be used, got %v", j.PostedAt)
	}
}

func TestRSSSearch_AllFeedsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewRSSAdapter([]string{srv.URL + "/a", srv.URL + "/b"}, srv.Client())
	_, err := a.Search(context.Background(), model.Query{Keywords: []string{"x"}, Locations: []string{"y"}})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTPError 503, got %v", err)
	}
}

func TestRSSSearch_OneFeedFailing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(jobsFeed)) })
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewRSSAdapter([]string{srv.URL + "/down", srv.URL + "/ok"}, srv.Client())
	jobs, err := a.Search(context.Background(), model.Query{Keywords: []string{"secrétaire"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs from the healthy feed, got %d", len(jobs))
	}
}
