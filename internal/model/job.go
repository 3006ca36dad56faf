package model

import (
	"context"
	"time"
)

// Source identifies the job board or API a listing came from.
type Source string

const (
	SourceGoogle Source = "google"
	SourceJobup  Source = "jobup"
	SourceAdzuna Source = "adzuna"
	SourceRSS    Source = "rss"
)

// JobMatch is a normalized listing returned by a source for one search.
// It only becomes a JobPosting once the pipeline persists it.
type JobMatch struct {
	ID          string    // external id, unique across sources
	Title       string    // job title
	Company     string    // employer name
	Location    string    // free-form location string
	URL         string    // apply or detail link
	Description string    // plain text, may be empty
	PostedAt    time.Time // best-effort publication time, never zero
	Source      Source
}

// Query is what a saved search asks of every source.
type Query struct {
	Keywords  []string
	Locations []string
}

// JobSource searches one job board for listings matching a query.
type JobSource interface {
	Name() string
	Search(ctx context.Context, q Query) ([]JobMatch, error)
}

// ChatSender delivers a formatted message to a chat address.
type ChatSender interface {
	Send(ctx context.Context, chatID, text string) error
}

// JobFilter decides whether a listing satisfies a local criterion.
type JobFilter interface {
	Match(job JobMatch) bool
}

// AlertField is one labelled value in an operator alert.
type AlertField struct {
	Label string
	Value string
}

// OpsAlerter tells operators about failed scheduled work.
type OpsAlerter interface {
	Alert(ctx context.Context, title string, fields ...AlertField) error
}
