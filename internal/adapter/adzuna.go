package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3 // max 150 results per keyword and location pair
)

var _ model.JobSource = (*AdzunaAdapter)(nil)

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

type adzunaResult struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Company     adzunaLabel `json:"company"`
	Location    adzunaLabel `json:"location"`
	RedirectURL string      `json:"redirect_url"`
	Created     string      `json:"created"`
}

type adzunaLabel struct {
	DisplayName string `json:"display_name"`
}

// AdzunaAdapter searches the Adzuna public API, newest first.
type AdzunaAdapter struct {
	appID   string
	appKey  string
	country string
	client  *http.Client
	now     func() time.Time
}

// NewAdzunaAdapter creates an adapter for one Adzuna country index ("ch", "fr", ...).
func NewAdzunaAdapter(appID, appKey, country string, client *http.Client) *AdzunaAdapter {
	if country == "" {
		country = "ch"
	}
	return &AdzunaAdapter{appID: appID, appKey: appKey, country: country, client: client, now: time.Now}
}

func (a *AdzunaAdapter) Name() string { return string(model.SourceAdzuna) }

// Search pages through results for every keyword and location pair until a
// short page or the page cap.
func (a *AdzunaAdapter) Search(ctx context.Context, q model.Query) ([]model.JobMatch, error) {
	var jobs []model.JobMatch
	for _, kw := range q.Keywords {
		for _, loc := range q.Locations {
			for page := 1; page <= adzunaMaxPages; page++ {
				batch, err := a.fetchPage(ctx, kw, loc, page)
				if err != nil {
					return nil, fmt.Errorf("adzuna %q in %q page %d: %w", kw, loc, page, err)
				}
				jobs = append(jobs, batch...)
				if len(batch) < adzunaPageSize {
					break
				}
			}
		}
	}
	return dedupeByID(jobs), nil
}

func (a *AdzunaAdapter) fetchPage(ctx context.Context, keyword, location string, page int) ([]model.JobMatch, error) {
	params := url.Values{}
	params.Set("app_id", a.appID)
	params.Set("app_key", a.appKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", keyword)
	params.Set("where", location)
	params.Set("sort_by", "date")

	endpoint := fmt.Sprintf("%s/%s/search/%d?%s", adzunaBaseURL, a.country, page, params.Encode())
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp adzunaResponse
	if err := doJSON(ctx, a.client, req, "adzuna", &resp); err != nil {
		return nil, err
	}

	now := a.now()
	jobs := make([]model.JobMatch, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.ID == "" {
			continue
		}
		posted, ok := parseAbsoluteDate(r.Created)
		if !ok {
			posted = now
		}
		jobs = append(jobs, model.JobMatch{
			ID:          "adzuna:" + r.ID,
			Title:       extractText(r.Title),
			Company:     r.Company.DisplayName,
			Location:    r.Location.DisplayName,
			URL:         r.RedirectURL,
			Description: extractText(r.Description),
			PostedAt:    posted,
			Source:      model.SourceAdzuna,
		})
	}
	return jobs, nil
}
