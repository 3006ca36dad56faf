package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobalert/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSource returns canned jobs or an error, after an optional delay.
type stubSource struct {
	name  string
	jobs  []model.JobMatch
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Search(ctx context.Context, q model.Query) ([]model.JobMatch, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.jobs, s.err
}

func job(id, title, company, location string) model.JobMatch {
	return model.JobMatch{ID: id, Title: title, Company: company, Location: location}
}

func ids(jobs []model.JobMatch) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestFetchMergesInSourceOrderAndDedupes(t *testing.T) {
	google := &stubSource{name: "google", delay: 20 * time.Millisecond, jobs: []model.JobMatch{
		job("g1", "Secrétaire", "Acme SA", "Lausanne"),
		job("g2", "Comptable", "Beta", "Genève"),
	}}
	jobup := &stubSource{name: "jobup", jobs: []model.JobMatch{
		job("j1", "  SECRÉTAIRE ", "acme sa", "lausanne"),
		job("j2", "Réceptionniste", "Gamma", "Morges"),
	}}

	a := New([]model.JobSource{google, jobup}, discardLogger())
	got := a.Fetch(context.Background(), []string{"secrétaire"}, []string{"Vaud"})

	assert.Equal(t, []string{"g1", "g2", "j2"}, ids(got),
		"first occurrence in source order should win even when that source finishes last")
}

func TestFetchIsolatesFailingSource(t *testing.T) {
	broken := &stubSource{name: "google", err: errors.New("quota exceeded")}
	healthy := &stubSource{name: "jobup", jobs: []model.JobMatch{job("j1", "Dev", "Acme", "Bern")}}

	got := New([]model.JobSource{broken, healthy}, discardLogger()).
		Fetch(context.Background(), []string{"dev"}, []string{"Bern"})

	assert.Equal(t, []string{"j1"}, ids(got))
	assert.EqualValues(t, 1, broken.calls.Load())
}

func TestFetchAllSourcesFailingReturnsEmpty(t *testing.T) {
	a := New([]model.JobSource{
		&stubSource{name: "google", err: errors.New("boom")},
		&stubSource{name: "jobup", err: errors.New("boom")},
	}, discardLogger())

	assert.Empty(t, a.Fetch(context.Background(), []string{"x"}, []string{"y"}))
}

func TestFetchRunsSourcesConcurrently(t *testing.T) {
	slow := 100 * time.Millisecond
	a := New([]model.JobSource{
		&stubSource{name: "a", delay: slow},
		&stubSource{name: "b", delay: slow},
		&stubSource{name: "c", delay: slow},
	}, discardLogger())

	start := time.Now()
	a.Fetch(context.Background(), []string{"x"}, []string{"y"})
	assert.Less(t, time.Since(start), 3*slow)
}

func TestFetchSourceTimeout(t *testing.T) {
	hanging := &stubSource{name: "slow", delay: time.Second}
	fast := &stubSource{name: "fast", jobs: []model.JobMatch{job("f1", "Dev", "Acme", "Bern")}}

	a := New([]model.JobSource{hanging, fast}, discardLogger(), WithSourceTimeout(20*time.Millisecond))
	got := a.Fetch(context.Background(), []string{"x"}, []string{"y"})
	assert.Equal(t, []string{"f1"}, ids(got))
}

// mapCache is an in-test ResultCache.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]model.JobMatch
	getErr  error
}

func (c *mapCache) Get(_ context.Context, key string) ([]model.JobMatch, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	jobs, ok := c.entries[key]
	return jobs, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, jobs []model.JobMatch, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = jobs
	return nil
}

func TestFetchUsesCache(t *testing.T) {
	src := &stubSource{name: "google", jobs: []model.JobMatch{job("g1", "Dev", "Acme", "Bern")}}
	c := &mapCache{entries: map[string][]model.JobMatch{}}
	a := New([]model.JobSource{src}, discardLogger(), WithCache(c, time.Minute))

	first := a.Fetch(context.Background(), []string{"Dev", "Go"}, []string{"Bern"})
	second := a.Fetch(context.Background(), []string{"go", "dev"}, []string{" bern"})

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, src.calls.Load(), "equivalent query should be served from cache")
}

func TestFetchIgnoresCacheErrors(t *testing.T) {
	src := &stubSource{name: "google", jobs: []model.JobMatch{job("g1", "Dev", "Acme", "Bern")}}
	c := &mapCache{entries: map[string][]model.JobMatch{}, getErr: errors.New("redis down")}

	got := New([]model.JobSource{src}, discardLogger(), WithCache(c, time.Minute)).
		Fetch(context.Background(), []string{"dev"}, []string{"Bern"})
	require.Len(t, got, 1)
}

func TestFetchDoesNotCacheEmptyResults(t *testing.T) {
	src := &stubSource{name: "google"}
	c := &mapCache{entries: map[string][]model.JobMatch{}}
	a := New([]model.JobSource{src}, discardLogger(), WithCache(c, time.Minute))

	a.Fetch(context.Background(), []string{"x"}, []string{"y"})
	a.Fetch(context.Background(), []string{"x"}, []string{"y"})
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestDedupKeyNormalizes(t *testing.T) {
	// "é" precomposed vs "e" + combining acute accent.
	a := job("1", "Café Manager", "Acme", "Zürich")
	b := job("2", " CAFÉ manager", "ACME", "zürich ")
	assert.Equal(t, DedupKey(a), DedupKey(b))
}

func TestCacheKeyOrderInsensitive(t *testing.T) {
	k1 := CacheKey(model.Query{Keywords: []string{"b", "a"}, Locations: []string{"Vaud"}})
	k2 := CacheKey(model.Query{Keywords: []string{"A", "B", ""}, Locations: []string{"vaud"}})
	assert.Equal(t, k1, k2)
}
