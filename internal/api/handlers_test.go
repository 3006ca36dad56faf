package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobalert/internal/alert"
	"github.com/amishk599/jobalert/internal/model"
	"github.com/amishk599/jobalert/internal/scheduler"
	"github.com/amishk599/jobalert/internal/store"
)

const testToken = "test-token-12345"

var testNow = time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)

type fakePipeline struct {
	run       alert.RunResult
	cleanup   alert.CleanupResult
	retention int
	subs      map[string]model.Subscriber
	counts    alert.Counts
	err       error
	ctxErr    error // ctx.Err() seen by the last call
}

func (p *fakePipeline) ProcessAll(ctx context.Context) alert.RunResult {
	p.ctxErr = ctx.Err()
	return p.run
}

func (p *fakePipeline) Cleanup(ctx context.Context, days int) alert.CleanupResult {
	p.ctxErr = ctx.Err()
	p.retention = days
	return p.cleanup
}

func (p *fakePipeline) ProcessSubscriberByChatID(ctx context.Context, chatID string) (model.Subscriber, alert.Counts, error) {
	p.ctxErr = ctx.Err()
	sub, ok := p.subs[chatID]
	if !ok {
		return model.Subscriber{}, alert.Counts{}, model.ErrNotFound
	}
	return sub, p.counts, p.err
}

type fakeFetcher struct {
	jobs      []model.JobMatch
	keywords  []string
	locations []string
}

func (f *fakeFetcher) Fetch(_ context.Context, keywords, locations []string) []model.JobMatch {
	f.keywords, f.locations = keywords, locations
	return f.jobs
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (s *fakeSender) Send(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.sent == nil {
		s.sent = map[string][]string{}
	}
	s.sent[chatID] = append(s.sent[chatID], text)
	return nil
}

type fakeStats struct {
	stats         model.Stats
	recentSince   time.Time
	cleanupBefore time.Time
}

func (s *fakeStats) Stats(_ context.Context, recentSince, cleanupBefore time.Time) (model.Stats, error) {
	s.recentSince, s.cleanupBefore = recentSince, cleanupBefore
	return s.stats, nil
}

type fakeScheduler struct{}

func (fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{Running: true, Timezone: "Europe/Zurich", Tasks: []scheduler.TaskStatus{{Name: "alerts", Schedule: "0 */2 * * *"}}}
}

type harness struct {
	handler  http.Handler
	pipeline *fakePipeline
	fetcher  *fakeFetcher
	sender   *fakeSender
	stats    *fakeStats
}

func setup(t *testing.T, withScheduler bool) *harness {
	t.Helper()
	h := &harness{
		pipeline: &fakePipeline{subs: map[string]model.Subscriber{}},
		fetcher:  &fakeFetcher{},
		sender:   &fakeSender{},
		stats:    &fakeStats{},
	}
	deps := Deps{
		Pipeline: h.pipeline,
		Fetcher:  h.fetcher,
		Sender:   h.sender,
		Stats:    h.stats,
		Token:    testToken,
		Now:      func() time.Time { return testNow },
	}
	if withScheduler {
		deps.Scheduler = fakeScheduler{}
	}
	h.handler = NewHandler(deps)
	return h
}

func (h *harness) do(method, url, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	var out map[string]any
	json.Unmarshal(rr.Body.Bytes(), &out)
	return rr, out
}

func TestHealthIsPublic(t *testing.T) {
	h := setup(t, false)
	rr, body := h.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := setup(t, false)
	for _, tc := range []struct{ method, url, token string }{
		{http.MethodGet, "/jobs/status", ""},
		{http.MethodGet, "/jobs/status", "wrong"},
		{http.MethodPost, "/jobs/process", ""},
		{http.MethodPost, "/admin/trigger", "nope"},
	} {
		rr, body := h.do(tc.method, tc.url, "", tc.token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", tc.method, tc.url)
		assert.Equal(t, false, body["success"])
	}
}

func TestEmptyTokenLocksRoutes(t *testing.T) {
	handler := NewHandler(Deps{Pipeline: &fakePipeline{}})
	req := httptest.NewRequest(http.MethodGet, "/jobs/process", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestProcessReportsRun(t *testing.T) {
	h := setup(t, false)
	h.pipeline.run = alert.RunResult{
		RunID:             "run-1",
		Success:           true,
		StartedAt:         testNow,
		FinishedAt:        testNow.Add(3 * time.Second),
		Duration:          3 * time.Second,
		UsersProcessed:    3,
		UsersFailed:       1,
		JobsFound:         7,
		NotificationsSent: 4,
	}

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr, body := h.do(method, "/jobs/process", "", testToken)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "run-1", body["runId"])
		assert.Equal(t, "3s", body["duration"])
		results := body["results"].(map[string]any)
		assert.EqualValues(t, 3, results["usersProcessed"])
		assert.EqualValues(t, 1, results["usersFailed"])
		assert.EqualValues(t, 7, results["jobsFound"])
		assert.EqualValues(t, 4, results["notificationsSent"])
		assert.NotContains(t, body, "error")
	}
}

func TestProcessConflictWhileRunning(t *testing.T) {
	h := setup(t, false)
	h.pipeline.run = alert.RunResult{Error: alert.ErrRunInProgress}

	rr, body := h.do(http.MethodPost, "/jobs/process", "", testToken)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, false, body["success"])
}

func TestProcessFailureCarriesError(t *testing.T) {
	h := setup(t, false)
	h.pipeline.run = alert.RunResult{Error: context.DeadlineExceeded, UsersProcessed: 2}

	rr, body := h.do(http.MethodPost, "/jobs/process", "", testToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "deadline")
}

func TestCleanupDefaultsTo90Days(t *testing.T) {
	h := setup(t, false)
	h.pipeline.cleanup = alert.CleanupResult{Success: true, DeletedJobsCount: 5, CutoffDate: testNow.AddDate(0, 0, -90)}

	rr, body := h.do(http.MethodPost, "/jobs/cleanup", "", testToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 90, h.pipeline.retention)
	results := body["results"].(map[string]any)
	assert.EqualValues(t, 5, results["deletedJobsCount"])
	assert.Equal(t, "2023-10-10T12:00:00Z", results["cutoffDate"])

	_, _ = h.do(http.MethodPost, "/jobs/cleanup", `{"retentionDays":30}`, testToken)
	assert.Equal(t, 30, h.pipeline.retention)
}

func TestCleanupRejectsBadBody(t *testing.T) {
	h := setup(t, false)
	rr, _ := h.do(http.MethodPost, "/jobs/cleanup", `{"retentionDays":-1}`, testToken)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = h.do(http.MethodPost, "/jobs/cleanup", `{not json`, testToken)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusShapesCounts(t *testing.T) {
	h := setup(t, false)
	h.stats.stats = model.Stats{
		SubscribersTotal:   4,
		SubscribersActive:  3,
		SearchesTotal:      4,
		SearchesActive:     2,
		PostingsTotal:      50,
		PostingsRecentWeek: 10,
		PostingsEligible:   6,
		NotificationsTotal: 70,
	}

	rr, body := h.do(http.MethodGet, "/jobs/status", "", testToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, h.stats.recentSince.Equal(testNow.AddDate(0, 0, -7)))
	assert.True(t, h.stats.cleanupBefore.Equal(testNow.AddDate(0, 0, -90)))

	db := body["database"].(map[string]any)
	assert.EqualValues(t, 3, db["users"].(map[string]any)["active"])
	assert.EqualValues(t, 2, db["jobSearches"].(map[string]any)["active"])
	assert.EqualValues(t, 6, db["jobPostings"].(map[string]any)["eligibleForCleanup"])
	assert.EqualValues(t, 70, db["notifications"].(map[string]any)["total"])
}

func TestTrigger(t *testing.T) {
	h := setup(t, false)
	h.pipeline.subs["123"] = model.Subscriber{ChatID: "123", Name: "Marie", Username: "marie_vd"}
	h.pipeline.counts = alert.Counts{JobsFound: 2, NotificationsSent: 2}

	rr, body := h.do(http.MethodPost, "/admin/trigger", `{"chatId":"123"}`, testToken)
	require.Equal(t, http.StatusOK, rr.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, "Marie", user["firstName"])
	assert.Equal(t, "marie_vd", user["username"])
	results := body["results"].(map[string]any)
	assert.EqualValues(t, 2, results["notificationsSent"])
}

func TestTriggerErrors(t *testing.T) {
	h := setup(t, false)
	h.pipeline.subs["500"] = model.Subscriber{ChatID: "500"}
	h.pipeline.err = errors.New("database is locked")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing chat id", `{}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"unknown chat", `{"chatId":"999"}`, http.StatusNotFound},
		{"pipeline failure", `{"chatId":"500"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := h.do(http.MethodPost, "/admin/trigger", tt.body, testToken)
			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestTriggerConflictWhileRunning(t *testing.T) {
	h := setup(t, false)
	h.pipeline.subs["123"] = model.Subscriber{ChatID: "123"}
	h.pipeline.err = alert.ErrRunInProgress

	rr, body := h.do(http.MethodPost, "/admin/trigger", `{"chatId":"123"}`, testToken)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, false, body["success"])
}

func TestRunsIgnoreClientCancellation(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		body   string
	}{
		{"process", http.MethodPost, "/jobs/process", ""},
		{"cleanup", http.MethodPost, "/jobs/cleanup", ""},
		{"trigger", http.MethodPost, "/admin/trigger", `{"chatId":"123"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t, false)
			h.pipeline.subs["123"] = model.Subscriber{ChatID: "123"}
			h.pipeline.run = alert.RunResult{Success: true}
			h.pipeline.cleanup = alert.CleanupResult{Success: true}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			var reader io.Reader
			if tt.body != "" {
				reader = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.url, reader).WithContext(ctx)
			req.Header.Set("Authorization", "Bearer "+testToken)
			rr := httptest.NewRecorder()
			h.handler.ServeHTTP(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.NoError(t, h.pipeline.ctxErr)
		})
	}
}

// gatedFetcher returns jobs once released, or nothing if ctx ends first.
type gatedFetcher struct {
	jobs    []model.JobMatch
	started chan struct{}
	release chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, _, _ []string) []model.JobMatch {
	close(f.started)
	select {
	case <-f.release:
		return f.jobs
	case <-ctx.Done():
		return nil
	}
}

func TestProcessCompletesAfterClientDisconnect(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", store.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	sub, err := st.CreateSubscriber(ctx, model.Subscriber{ChatID: "123", Name: "Marie", Active: true})
	require.NoError(t, err)
	_, err = st.UpsertSearch(ctx, model.SavedSearch{
		SubscriberID: sub.ID,
		Keywords:     []string{"developpeur"},
		Locations:    []string{"Lausanne"},
		MaxAgeDays:   7,
		Active:       true,
	})
	require.NoError(t, err)

	fetcher := &gatedFetcher{
		jobs: []model.JobMatch{{
			ID:       "google:1",
			Title:    "Developpeur Go",
			Company:  "Etat de Vaud",
			URL:      "https://jobs.example.ch/1",
			PostedAt: testNow,
			Source:   model.SourceGoogle,
		}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	sender := &fakeSender{}
	pipeline := alert.New(st, fetcher, sender, slog.New(slog.DiscardHandler),
		alert.WithClock(func() time.Time { return testNow }),
		alert.WithSendDelay(0),
		alert.WithSubscriberDelay(0),
	)
	handler := NewHandler(Deps{Pipeline: pipeline, Token: testToken, Now: func() time.Time { return testNow }})

	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/jobs/process", nil).WithContext(reqCtx)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rr, req)
		close(done)
	}()

	<-fetcher.started
	cancel()
	close(fetcher.release)
	<-done

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"], "error: %v", body["error"])
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Len(t, sender.sent["123"], 1)
}

func TestAdminTestDryRun(t *testing.T) {
	h := setup(t, false)
	for i := 0; i < 7; i++ {
		h.fetcher.jobs = append(h.fetcher.jobs, model.JobMatch{
			ID:       string(rune('a' + i)),
			Title:    "Secrétaire",
			Company:  "Etat de Vaud",
			Location: "Lausanne",
			Source:   model.SourceGoogle,
			PostedAt: testNow,
		})
	}

	rr, body := h.do(http.MethodPost, "/admin/test",
		`{"keywords":[" secrétaire ",""],"locations":["Vaud"],"chatId":"42"}`, testToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"secrétaire"}, h.fetcher.keywords)

	results := body["results"].(map[string]any)
	assert.EqualValues(t, 7, results["totalJobs"])
	assert.Len(t, results["jobsSample"], 5)
	assert.Equal(t, true, results["testNotificationSent"])
	require.Len(t, h.sender.sent["42"], 1)
	assert.Contains(t, h.sender.sent["42"][0], "manuellement")
}

func TestAdminTestWithoutChatSendsNothing(t *testing.T) {
	h := setup(t, false)
	h.fetcher.jobs = []model.JobMatch{{ID: "a", Title: "Dev"}}

	rr, body := h.do(http.MethodPost, "/admin/test", `{"keywords":["dev"],"locations":["Bern"]}`, testToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, body["results"].(map[string]any)["testNotificationSent"])
	assert.Empty(t, h.sender.sent)
}

func TestAdminTestValidation(t *testing.T) {
	h := setup(t, false)
	rr, _ := h.do(http.MethodPost, "/admin/test", `{"keywords":["dev"],"locations":[" "]}`, testToken)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSchedulerStatus(t *testing.T) {
	rr, _ := setup(t, false).do(http.MethodGet, "/admin/scheduler", "", testToken)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr, body := setup(t, true).do(http.MethodGet, "/admin/scheduler", "", testToken)
	require.Equal(t, http.StatusOK, rr.Code)
	sched := body["scheduler"].(map[string]any)
	assert.Equal(t, "Europe/Zurich", sched["timezone"])
	assert.Len(t, sched["tasks"], 1)
}
