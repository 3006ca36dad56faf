package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

// Option configures a store backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for created_at and updated_at columns.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Open picks a backend from the DSN. postgres:// and postgresql:// URLs use
// PostgreSQL; anything else is treated as a SQLite path.
func Open(ctx context.Context, dsn string, opts ...Option) (model.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn, opts...)
	case dsn == "":
		return nil, fmt.Errorf("empty database url")
	default:
		return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"), opts...)
	}
}

func encodeTerms(terms []string) (string, error) {
	if terms == nil {
		terms = []string{}
	}
	b, err := json.Marshal(terms)
	if err != nil {
		return "", fmt.Errorf("encoding terms: %w", err)
	}
	return string(b), nil
}

func decodeTerms(raw []byte) ([]string, error) {
	var terms []string
	if len(raw) == 0 {
		return terms, nil
	}
	if err := json.Unmarshal(raw, &terms); err != nil {
		return nil, fmt.Errorf("decoding terms: %w", err)
	}
	return terms, nil
}

func uniqueIDs(jobs []model.JobMatch) []string {
	seen := make(map[string]bool, len(jobs))
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if j.ID == "" || seen[j.ID] {
			continue
		}
		seen[j.ID] = true
		ids = append(ids, j.ID)
	}
	return ids
}
