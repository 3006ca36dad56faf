package model

import (
	"context"
	"time"
)

// AlertStore is the persistence surface the alert pipeline needs.
type AlertStore interface {
	ActiveSubscribers(ctx context.Context) ([]Subscriber, error)
	SubscriberByChatID(ctx context.Context, chatID string) (Subscriber, error)
	ActiveSearches(ctx context.Context, subscriberID int64) ([]SavedSearch, error)

	// NotifiedExternalIDs reports which of externalIDs already have a
	// notification record for the subscriber, in a single query.
	NotifiedExternalIDs(ctx context.Context, subscriberID int64, externalIDs []string) (map[string]bool, error)

	// SavePostings inserts postings whose external id is new and leaves
	// existing rows untouched. It returns the posting id for every input.
	SavePostings(ctx context.Context, jobs []JobMatch) (map[string]int64, error)

	RecordNotifications(ctx context.Context, subscriberID int64, postingIDs []int64, sentAt time.Time) error

	// DeletePostingsBefore removes postings created before cutoff along with
	// their notification records and returns the number of postings removed.
	DeletePostingsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Stats(ctx context.Context, recentSince, cleanupBefore time.Time) (Stats, error)
}

// SubscriberStore is the persistence surface the chat bot needs.
type SubscriberStore interface {
	SubscriberByChatID(ctx context.Context, chatID string) (Subscriber, error)
	CreateSubscriber(ctx context.Context, sub Subscriber) (Subscriber, error)
	SetSubscriberActive(ctx context.Context, chatID string, active bool) error
	Searches(ctx context.Context, subscriberID int64) ([]SavedSearch, error)

	// UpsertSearch replaces the subscriber's first search, or creates one.
	UpsertSearch(ctx context.Context, search SavedSearch) (SavedSearch, error)
}

// Store is implemented by every persistence backend.
type Store interface {
	AlertStore
	SubscriberStore
	Close() error
}
