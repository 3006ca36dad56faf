// Package aggregator fans a search out to every job source and merges the
// results into one deduplicated list.
package aggregator

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/amishk599/jobalert/internal/model"
)

// ResultCache stores merged results for a query so identical searches in
// one pass do not hit the sources again.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]model.JobMatch, bool, error)
	Set(ctx context.Context, key string, jobs []model.JobMatch, ttl time.Duration) error
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache enables the result cache.
func WithCache(c ResultCache, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = c
		a.cacheTTL = ttl
	}
}

// WithSourceTimeout bounds each source call. Zero means no extra bound.
func WithSourceTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.sourceTimeout = d }
}

// Aggregator queries all sources concurrently. A failing source is logged and
// contributes no results; Fetch itself never fails.
type Aggregator struct {
	sources       []model.JobSource
	logger        *slog.Logger
	cache         ResultCache
	cacheTTL      time.Duration
	sourceTimeout time.Duration
}

// New creates an aggregator. Source order decides which duplicate wins.
func New(sources []model.JobSource, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{sources: sources, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sources returns the configured source names in order.
func (a *Aggregator) Sources() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name()
	}
	return names
}

// Fetch searches every source and returns the merged, deduplicated results.
func (a *Aggregator) Fetch(ctx context.Context, keywords, locations []string) []model.JobMatch {
	q := model.Query{Keywords: keywords, Locations: locations}
	key := CacheKey(q)

	if a.cache != nil {
		jobs, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			a.logger.Warn("result cache read failed", "error", err)
		} else if ok {
			a.logger.Debug("result cache hit", "key", key, "jobs", len(jobs))
			return jobs
		}
	}

	perSource := make([][]model.JobMatch, len(a.sources))
	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			perSource[i] = a.searchOne(ctx, src, q)
			return nil
		})
	}
	g.Wait()

	var merged []model.JobMatch
	for _, jobs := range perSource {
		merged = append(merged, jobs...)
	}
	jobs := Dedupe(merged)

	a.logger.Info("aggregated search",
		"keywords", keywords,
		"locations", locations,
		"fetched", len(merged),
		"unique", len(jobs),
	)

	if a.cache != nil && len(jobs) > 0 {
		if err := a.cache.Set(ctx, key, jobs, a.cacheTTL); err != nil {
			a.logger.Warn("result cache write failed", "error", err)
		}
	}
	return jobs
}

func (a *Aggregator) searchOne(ctx context.Context, src model.JobSource, q model.Query) []model.JobMatch {
	if a.sourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.sourceTimeout)
		defer cancel()
	}

	start := time.Now()
	jobs, err := src.Search(ctx, q)
	if err != nil {
		a.logger.Error("source search failed", "source", src.Name(), "error", err)
		return nil
	}
	a.logger.Debug("source searched", "source", src.Name(), "jobs", len(jobs), "took", time.Since(start))
	return jobs
}

// normalize trims, NFC-normalizes and case-folds s. Casers keep state, so
// each call gets its own.
func normalize(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// DedupKey identifies a listing by content so the same job found on two
// boards collapses to one.
func DedupKey(j model.JobMatch) string {
	return normalize(j.Title) + "|" + normalize(j.Company) + "|" + normalize(j.Location)
}

// Dedupe keeps the first listing for each content key, preserving order.
func Dedupe(jobs []model.JobMatch) []model.JobMatch {
	seen := make(map[string]bool, len(jobs))
	out := make([]model.JobMatch, 0, len(jobs))
	for _, j := range jobs {
		k := DedupKey(j)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, j)
	}
	return out
}

// CacheKey is order-insensitive over keywords and locations.
func CacheKey(q model.Query) string {
	return "jobalert:search:" + joinSorted(q.Keywords) + "@" + joinSorted(q.Locations)
}

func joinSorted(terms []string) string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = normalize(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return strings.Join(out, ",")
}
