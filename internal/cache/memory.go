// Package cache provides aggregator result caches.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/amishk599/jobalert/internal/aggregator"
	"github.com/amishk599/jobalert/internal/model"
)

var _ aggregator.ResultCache = (*MemoryCache)(nil)

type memoryEntry struct {
	jobs    []model.JobMatch
	expires time.Time
}

// MemoryCache is a process-local cache used when no Redis is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]model.JobMatch, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]model.JobMatch(nil), e.jobs...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, jobs []model.JobMatch, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{
		jobs:    append([]model.JobMatch(nil), jobs...),
		expires: c.now().Add(ttl),
	}
	return nil
}
