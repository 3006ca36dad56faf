package filter

import (
	"testing"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

func job(title, location string) model.JobMatch {
	return model.JobMatch{Title: title, Location: location}
}

func TestKeywordFilter_Match(t *testing.T) {
	tests := []struct {
		name      string
		keywords  []string
		locations []string
		job       model.JobMatch
		wantMatch bool
	}{
		{
			name:      "matches both keyword and location",
			keywords:  []string{"secrétaire", "assistante"},
			locations: []string{"Vaud", "Lausanne"},
			job:       job("Secrétaire médicale", "Lausanne, VD"),
			wantMatch: true,
		},
		{
			name:      "keyword match but location miss",
			keywords:  []string{"secrétaire"},
			locations: []string{"Genève"},
			job:       job("Secrétaire", "Zürich"),
			wantMatch: false,
		},
		{
			name:      "case insensitive matching",
			keywords:  []string{"DEVELOPER"},
			locations: []string{"bern"},
			job:       job("Go Developer", "Bern"),
			wantMatch: true,
		},
		{
			name:      "keyword found in description",
			keywords:  []string{"comptable"},
			locations: nil,
			job:       model.JobMatch{Title: "Collaborateur", Description: "Poste de comptable à 80%"},
			wantMatch: true,
		},
		{
			name:      "missing location falls back to title",
			keywords:  []string{"assistant"},
			locations: []string{"zurich"},
			job:       job("Assistant (Zurich)", ""),
			wantMatch: true,
		},
		{
			name:      "blank keywords are ignored",
			keywords:  []string{"  ", ""},
			locations: []string{},
			job:       job("Any Role", "Anywhere"),
			wantMatch: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewKeywordFilter(tt.keywords, tt.locations)
			if got := f.Match(tt.job); got != tt.wantMatch {
				t.Errorf("Match() = %v, want %v", got, tt.wantMatch)
			}
		})
	}
}

func TestRecent_Boundary(t *testing.T) {
	now := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	jobs := []model.JobMatch{
		{ID: "today", PostedAt: now},
		{ID: "on-cutoff", PostedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "just-before", PostedAt: time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)},
	}

	got := Recent(jobs, 7, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 recent jobs, got %d", len(got))
	}
	if got[0].ID != "today" || got[1].ID != "on-cutoff" {
		t.Errorf("unexpected jobs kept: %v, %v", got[0].ID, got[1].ID)
	}
}

func TestRecent_ZeroDaysKeepsOnlyNow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	jobs := []model.JobMatch{
		{ID: "now", PostedAt: now},
		{ID: "second-ago", PostedAt: now.Add(-time.Second)},
	}
	got := Recent(jobs, 0, now)
	if len(got) != 1 || got[0].ID != "now" {
		t.Fatalf("expected only the job posted now, got %v", got)
	}
}

func TestRecent_Empty(t *testing.T) {
	if got := Recent(nil, 7, time.Now()); len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}
