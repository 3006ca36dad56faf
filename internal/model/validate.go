package model

import (
	"errors"
	"strings"
)

// ErrInvalidSearch is returned when a search has no usable keyword or location.
var ErrInvalidSearch = errors.New("search needs at least one keyword and one location")

// Validate checks the non-empty keyword and location invariants.
func (s SavedSearch) Validate() error {
	if len(CleanTerms(s.Keywords)) == 0 || len(CleanTerms(s.Locations)) == 0 {
		return ErrInvalidSearch
	}
	if s.MaxAgeDays < 0 {
		return errors.New("max age days must not be negative")
	}
	return nil
}

// CleanTerms trims each term and drops empty ones.
func CleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SplitTerms parses a comma-separated list as typed into chat.
func SplitTerms(s string) []string {
	return CleanTerms(strings.Split(s, ","))
}
