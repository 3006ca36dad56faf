package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/amishk599/jobalert/internal/filter"
	"github.com/amishk599/jobalert/internal/model"
)

var _ model.JobSource = (*RSSAdapter)(nil)

// RSSAdapter reads job feeds (RSS or Atom) that have no search API. Items
// are filtered locally against the query keywords and locations.
type RSSAdapter struct {
	feeds  []string
	parser *gofeed.Parser
	now    func() time.Time
}

// NewRSSAdapter creates an adapter over the given feed URLs.
func NewRSSAdapter(feeds []string, client *http.Client) *RSSAdapter {
	parser := gofeed.NewParser()
	parser.Client = client
	return &RSSAdapter{feeds: feeds, parser: parser, now: time.Now}
}

func (a *RSSAdapter) Name() string { return string(model.SourceRSS) }

// Search reads every feed and keeps matching items. A feed that fails is
// skipped; the search fails only when every feed failed.
func (a *RSSAdapter) Search(ctx context.Context, q model.Query) ([]model.JobMatch, error) {
	match := filter.NewKeywordFilter(q.Keywords, q.Locations)

	var (
		jobs []model.JobMatch
		errs []error
	)
	for _, feedURL := range a.feeds {
		items, err := a.readFeed(ctx, feedURL)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, j := range items {
			if match.Match(j) {
				jobs = append(jobs, j)
			}
		}
	}
	if len(errs) > 0 && len(errs) == len(a.feeds) {
		return nil, errors.Join(errs...)
	}
	return dedupeByID(jobs), nil
}

func (a *RSSAdapter) readFeed(ctx context.Context, feedURL string) ([]model.JobMatch, error) {
	feed, err := a.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &model.HTTPError{
				Source:     a.Name(),
				StatusCode: httpErr.StatusCode,
				Err:        fmt.Errorf("rss feed %s: %w", feedURL, err),
			}
		}
		return nil, fmt.Errorf("rss feed %s: %w", feedURL, err)
	}

	now := a.now()
	jobs := make([]model.JobMatch, 0, len(feed.Items))
	for _, item := range feed.Items {
		id := item.GUID
		if id == "" {
			id = item.Link
		}
		if id == "" {
			continue
		}

		posted := now
		switch {
		case item.PublishedParsed != nil:
			posted = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			posted = *item.UpdatedParsed
		}

		company := feed.Title
		if len(item.Authors) > 0 && item.Authors[0].Name != "" {
			company = item.Authors[0].Name
		}
		var location string
		if len(item.Categories) > 0 {
			location = item.Categories[0]
		}

		description := item.Description
		if description == "" {
			description = item.Content
		}

		jobs = append(jobs, model.JobMatch{
			ID:          id,
			Title:       extractText(item.Title),
			Company:     company,
			Location:    location,
			URL:         item.Link,
			Description: extractText(description),
			PostedAt:    posted,
			Source:      model.SourceRSS,
		})
	}
	return jobs, nil
}
