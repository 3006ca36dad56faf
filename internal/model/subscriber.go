package model

import "time"

// DefaultLanguage is the locale assigned to new subscribers.
const DefaultLanguage = "fr"

// DefaultMaxAgeDays is the freshness window given to searches created from chat.
const DefaultMaxAgeDays = 7

// Subscriber is a chat user who receives alerts.
type Subscriber struct {
	ID        int64
	ChatID    string // unique chat address
	Name      string
	Username  string
	Language  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SavedSearch is a standing query owned by a subscriber.
type SavedSearch struct {
	ID           int64
	SubscriberID int64
	Keywords     []string
	Locations    []string
	MaxAgeDays   int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Query returns the source query for this search.
func (s SavedSearch) Query() Query {
	return Query{Keywords: s.Keywords, Locations: s.Locations}
}

// JobPosting is a persisted listing, keyed by its external id.
type JobPosting struct {
	ID          int64
	ExternalID  string
	Title       string
	Company     string
	Location    string
	URL         string
	Description string
	PostedAt    time.Time
	Source      Source
	CreatedAt   time.Time
}

// NotificationRecord marks a posting as delivered (or attempted) to a subscriber.
type NotificationRecord struct {
	ID           int64
	SubscriberID int64
	PostingID    int64
	SentAt       time.Time
}

// Stats summarizes the store for the status endpoints.
type Stats struct {
	SubscribersTotal   int64 `json:"subscribersTotal"`
	SubscribersActive  int64 `json:"subscribersActive"`
	SearchesTotal      int64 `json:"searchesTotal"`
	SearchesActive     int64 `json:"searchesActive"`
	PostingsTotal      int64 `json:"postingsTotal"`
	PostingsRecentWeek int64 `json:"postingsRecentWeek"`
	PostingsEligible   int64 `json:"postingsEligibleForCleanup"`
	NotificationsTotal int64 `json:"notificationsTotal"`
}
