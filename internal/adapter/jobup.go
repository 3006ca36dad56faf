package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

const (
	apifyBaseURL      = "https://api.apify.com/v2/acts"
	jobupActor        = "drobnikj~jobup-scraper"
	jobupDefaultItems = 50
)

var _ model.JobSource = (*JobupAdapter)(nil)

type jobupQuery struct {
	Keyword  string `json:"keyword"`
	Location string `json:"location"`
	MaxItems int    `json:"maxItems"`
}

type jobupInput struct {
	Queries []jobupQuery `json:"queries"`
}

type jobupItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Posted      string `json:"posted"`
}

// JobupAdapter runs the jobup.ch scraper actor on Apify and reads its
// dataset synchronously.
type JobupAdapter struct {
	token    string
	actor    string
	maxItems int
	client   *http.Client
	now      func() time.Time
}

// NewJobupAdapter creates an adapter authenticated with an Apify token.
// maxItems caps results per keyword; zero uses the actor default of 50.
func NewJobupAdapter(token string, maxItems int, client *http.Client) *JobupAdapter {
	if maxItems <= 0 {
		maxItems = jobupDefaultItems
	}
	return &JobupAdapter{token: token, actor: jobupActor, maxItems: maxItems, client: client, now: time.Now}
}

func (a *JobupAdapter) Name() string { return string(model.SourceJobup) }

// Search starts one actor run with a query per keyword. The actor takes the
// locations as a single comma-separated string.
func (a *JobupAdapter) Search(ctx context.Context, q model.Query) ([]model.JobMatch, error) {
	input := jobupInput{Queries: make([]jobupQuery, 0, len(q.Keywords))}
	location := strings.Join(q.Locations, ",")
	for _, kw := range q.Keywords {
		input.Queries = append(input.Queries, jobupQuery{Keyword: kw, Location: location, MaxItems: a.maxItems})
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("jobup input marshal: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/run-sync-get-dataset-items?token=%s", apifyBaseURL, a.actor, url.QueryEscape(a.token))
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jobup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var items []jobupItem
	if err := doJSON(ctx, a.client, req, "jobup", &items); err != nil {
		return nil, err
	}

	now := a.now()
	jobs := make([]model.JobMatch, 0, len(items))
	for _, it := range items {
		id := it.ID
		if id == "" {
			id = it.URL
		}
		if id == "" {
			continue
		}
		posted, ok := parseAbsoluteDate(it.Posted)
		if !ok {
			posted = parseRelativeDate(it.Posted, now)
		}
		jobs = append(jobs, model.JobMatch{
			ID:          "jobup:" + id,
			Title:       it.Title,
			Company:     it.Company,
			Location:    it.Location,
			URL:         it.URL,
			Description: extractText(it.Description),
			PostedAt:    posted,
			Source:      model.SourceJobup,
		})
	}
	return dedupeByID(jobs), nil
}
