package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

// KeyedLimiter enforces a minimum gap between calls that share a key, such
// as requests to one job board or messages to one chat.
type KeyedLimiter struct {
	mu       sync.Mutex
	next     map[string]time.Time // earliest time the next call for a key may start
	minDelay time.Duration
}

// NewKeyedLimiter creates a limiter that spaces calls with the same key at
// least minDelay apart. Different keys never block each other.
func NewKeyedLimiter(minDelay time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		next:     make(map[string]time.Time),
		minDelay: minDelay,
	}
}

// Wait blocks until the caller may proceed for key. Each caller reserves its
// own slot, so concurrent waiters on one key are serialized.
// Returns an error if the context is cancelled while waiting.
func (l *KeyedLimiter) Wait(ctx context.Context, key string) error {
	if l.minDelay <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	slot := now
	if next, ok := l.next[key]; ok && next.After(now) {
		slot = next
	}
	l.next[key] = slot.Add(l.minDelay)
	l.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", key, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Forget drops the state for key.
func (l *KeyedLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.next, key)
	l.mu.Unlock()
}

var _ model.JobSource = (*RateLimitedSource)(nil)

// RateLimitedSource is a decorator that waits on the limiter before
// delegating to the wrapped source.
type RateLimitedSource struct {
	inner   model.JobSource
	limiter *KeyedLimiter
}

// NewRateLimitedSource wraps a source. Sources sharing a backend should share
// the limiter; the key is the source name.
func NewRateLimitedSource(inner model.JobSource, limiter *KeyedLimiter) *RateLimitedSource {
	return &RateLimitedSource{inner: inner, limiter: limiter}
}

func (s *RateLimitedSource) Name() string { return s.inner.Name() }

// Search waits for the limiter, then delegates.
func (s *RateLimitedSource) Search(ctx context.Context, q model.Query) ([]model.JobMatch, error) {
	if err := s.limiter.Wait(ctx, s.inner.Name()); err != nil {
		return nil, err
	}
	return s.inner.Search(ctx, q)
}
