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

const serpAPIBaseURL = "https://serpapi.com/search.json"

var _ model.JobSource = (*GoogleJobsAdapter)(nil)

type serpJobsResponse struct {
	Error       string       `json:"error"`
	JobsResults []serpJobRow `json:"jobs_results"`
}

type serpJobRow struct {
	JobID              string            `json:"job_id"`
	Title              string            `json:"title"`
	CompanyName        string            `json:"company_name"`
	Location           string            `json:"location"`
	Description        string            `json:"description"`
	ShareLink          string            `json:"share_link"`
	ApplyOptions       []serpApplyOption `json:"apply_options"`
	DetectedExtensions serpJobExtensions `json:"detected_extensions"`
}

type serpApplyOption struct {
	Link string `json:"link"`
}

type serpJobExtensions struct {
	PostedAt string `json:"posted_at"`
}

// GoogleJobsOptions tunes the SerpApi query.
type GoogleJobsOptions struct {
	Country  string // appended to every query, e.g. "Switzerland"
	Language string // hl parameter
	Results  int    // num parameter
}

// GoogleJobsAdapter searches Google Jobs through SerpApi, one request per
// keyword and location pair.
type GoogleJobsAdapter struct {
	apiKey string
	opts   GoogleJobsOptions
	client *http.Client
	now    func() time.Time
}

// NewGoogleJobsAdapter creates an adapter with the given SerpApi key.
func NewGoogleJobsAdapter(apiKey string, opts GoogleJobsOptions, client *http.Client) *GoogleJobsAdapter {
	if opts.Country == "" {
		opts.Country = "Switzerland"
	}
	if opts.Language == "" {
		opts.Language = "fr"
	}
	if opts.Results <= 0 {
		opts.Results = 20
	}
	return &GoogleJobsAdapter{apiKey: apiKey, opts: opts, client: client, now: time.Now}
}

func (a *GoogleJobsAdapter) Name() string { return string(model.SourceGoogle) }

// Search queries every keyword in every location. A failed pair aborts the
// search so the aggregator can log it as a source failure.
func (a *GoogleJobsAdapter) Search(ctx context.Context, q model.Query) ([]model.JobMatch, error) {
	var jobs []model.JobMatch
	for _, kw := range q.Keywords {
		for _, loc := range q.Locations {
			batch, err := a.searchOne(ctx, kw, loc)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, batch...)
		}
	}
	return dedupeByID(jobs), nil
}

func (a *GoogleJobsAdapter) searchOne(ctx context.Context, keyword, location string) ([]model.JobMatch, error) {
	params := url.Values{}
	params.Set("engine", "google_jobs")
	params.Set("q", fmt.Sprintf("%s jobs in %s %s", keyword, location, a.opts.Country))
	params.Set("hl", a.opts.Language)
	params.Set("num", strconv.Itoa(a.opts.Results))
	params.Set("api_key", a.apiKey)

	req, err := http.NewRequest(http.MethodGet, serpAPIBaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google jobs request for %q in %q: %w", keyword, location, err)
	}

	var resp serpJobsResponse
	if err := doJSON(ctx, a.client, req, "google jobs", &resp); err != nil {
		return nil, err
	}
	// SerpApi reports "no results" as an error string with a 200.
	if resp.Error != "" && len(resp.JobsResults) == 0 {
		return nil, nil
	}

	now := a.now()
	jobs := make([]model.JobMatch, 0, len(resp.JobsResults))
	for _, r := range resp.JobsResults {
		link := r.ShareLink
		if link == "" && len(r.ApplyOptions) > 0 {
			link = r.ApplyOptions[0].Link
		}
		id := r.JobID
		if id == "" {
			id = link
		}
		if id == "" {
			continue
		}
		jobs = append(jobs, model.JobMatch{
			ID:          id,
			Title:       r.Title,
			Company:     r.CompanyName,
			Location:    r.Location,
			URL:         link,
			Description: extractText(r.Description),
			PostedAt:    parseRelativeDate(r.DetectedExtensions.PostedAt, now),
			Source:      model.SourceGoogle,
		})
	}
	return jobs, nil
}
