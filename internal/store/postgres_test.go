package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

// Runs only against a disposable database: the test drops and recreates the schema.
func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("JOBALERT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("JOBALERT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, "TRUNCATE users, job_searches, job_postings, user_notifications RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	sub, err := s.CreateSubscriber(ctx, model.Subscriber{ChatID: "pg-1", Active: true})
	if err != nil {
		t.Fatalf("CreateSubscriber: %v", err)
	}
	if _, err := s.UpsertSearch(ctx, model.SavedSearch{SubscriberID: sub.ID, Keywords: []string{"go"}, Locations: []string{"Bern"}, MaxAgeDays: 7, Active: true}); err != nil {
		t.Fatalf("UpsertSearch: %v", err)
	}

	ids, err := s.SavePostings(ctx, []model.JobMatch{match("a"), match("b"), match("a")})
	if err != nil {
		t.Fatalf("SavePostings: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 posting ids, got %d", len(ids))
	}
	if err := s.RecordNotifications(ctx, sub.ID, []int64{ids["a"]}, time.Now()); err != nil {
		t.Fatalf("RecordNotifications: %v", err)
	}

	seen, err := s.NotifiedExternalIDs(ctx, sub.ID, []string{"a", "b"})
	if err != nil {
		t.Fatalf("NotifiedExternalIDs: %v", err)
	}
	if !seen["a"] || seen["b"] {
		t.Errorf("unexpected seen set: %v", seen)
	}

	deleted, err := s.DeletePostingsBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeletePostingsBefore: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}
