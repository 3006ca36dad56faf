package filter

import (
	"strings"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

// KeywordFilter matches listings whose title or description contains any of
// the keywords and whose location contains any of the locations. Listings
// without a location are matched against their title and description instead.
// Matching is case-insensitive. Empty lists are treated as "match all".
type KeywordFilter struct {
	keywords  []string
	locations []string
}

// NewKeywordFilter returns a filter for sources that cannot search server-side.
func NewKeywordFilter(keywords []string, locations []string) *KeywordFilter {
	return &KeywordFilter{
		keywords:  lowerAll(keywords),
		locations: lowerAll(locations),
	}
}

// Match returns true if the job satisfies both the keyword and location lists.
func (f *KeywordFilter) Match(job model.JobMatch) bool {
	text := strings.ToLower(job.Title + " " + job.Description)
	if !containsAny(text, f.keywords) {
		return false
	}
	if job.Location != "" {
		text = strings.ToLower(job.Location)
	}
	return containsAny(text, f.locations)
}

func containsAny(s string, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Cutoff returns the oldest publication time still considered fresh.
func Cutoff(now time.Time, maxAgeDays int) time.Time {
	return now.AddDate(0, 0, -maxAgeDays)
}

// Recent keeps listings published at or after now minus maxAgeDays.
// A listing exactly on the cutoff is kept.
func Recent(jobs []model.JobMatch, maxAgeDays int, now time.Time) []model.JobMatch {
	cutoff := Cutoff(now, maxAgeDays)
	out := make([]model.JobMatch, 0, len(jobs))
	for _, j := range jobs {
		if !j.PostedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out
}
