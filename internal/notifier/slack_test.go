package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/amishk599/jobalert/internal/model"
)

func TestSlackAlertPayload(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewSlackAlerter(srv.URL, srv.Client(), discardLogger())
	err := a.Alert(context.Background(), "Alert run failed",
		model.AlertField{Label: "Run", Value: "abc"},
		model.AlertField{Label: "Error", Value: "database locked"},
	)
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if got.Text != "Alert run failed" {
		t.Errorf("text = %q", got.Text)
	}
	if len(got.Blocks) != 2 || got.Blocks[0].Type != "header" || len(got.Blocks[1].Fields) != 2 {
		t.Errorf("unexpected blocks: %+v", got.Blocks)
	}
}

func TestSlackAlertSplitsFields(t *testing.T) {
	fields := make([]model.AlertField, 12)
	p := buildPayload("t", fields)
	if len(p.Blocks) != 3 {
		t.Fatalf("expected header and 2 sections, got %d blocks", len(p.Blocks))
	}
	if len(p.Blocks[1].Fields) != 10 || len(p.Blocks[2].Fields) != 2 {
		t.Errorf("unexpected field split: %d/%d", len(p.Blocks[1].Fields), len(p.Blocks[2].Fields))
	}
}

func TestSlackAlertRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewSlackAlerter(srv.URL, srv.Client(), discardLogger()).Alert(context.Background(), "x"); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestSlackAlertErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if err := NewSlackAlerter(srv.URL, srv.Client(), discardLogger()).Alert(context.Background(), "x"); err == nil {
		t.Fatal("expected error for 403")
	}
}
