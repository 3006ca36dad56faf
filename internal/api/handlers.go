// Package api exposes the operator HTTP surface: health, manual runs,
// cleanup, stats, a dry-run search and the scheduler state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/amishk599/jobalert/internal/alert"
	"github.com/amishk599/jobalert/internal/model"
	"github.com/amishk599/jobalert/internal/notifier"
	"github.com/amishk599/jobalert/internal/scheduler"
)

const (
	maxRequestBodySize   = 1 << 20
	defaultRetentionDays = 90
	recentWindowDays     = 7
	sampleSize           = 5
	serviceName          = "jobalert"
)

// Pipeline is the alert pipeline as seen by the API.
type Pipeline interface {
	ProcessAll(ctx context.Context) alert.RunResult
	ProcessSubscriberByChatID(ctx context.Context, chatID string) (model.Subscriber, alert.Counts, error)
	Cleanup(ctx context.Context, retentionDays int) alert.CleanupResult
}

// StatsReader returns row counts for the status endpoint.
type StatsReader interface {
	Stats(ctx context.Context, recentSince, cleanupBefore time.Time) (model.Stats, error)
}

// SchedulerStatus reports the scheduled tasks.
type SchedulerStatus interface {
	Status() scheduler.Status
}

type Deps struct {
	Pipeline      Pipeline
	Fetcher       alert.Fetcher
	Sender        model.ChatSender
	Stats         StatsReader
	Scheduler     SchedulerStatus // optional; nil when scheduling is disabled
	Token         string
	RetentionDays int
	Logger        *slog.Logger
	Now           func() time.Time
}

// NewHandler builds the router. /health is public; everything else needs
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RetentionDays <= 0 {
		deps.RetentionDays = defaultRetentionDays
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/jobs/process", handleProcess(deps))
		r.Post("/jobs/process", handleProcess(deps))
		r.Post("/jobs/cleanup", handleCleanup(deps))
		r.Get("/jobs/status", handleStatus(deps))

		r.Post("/admin/trigger", handleTrigger(deps))
		r.Post("/admin/test", handleTest(deps))
		r.Get("/admin/scheduler", handleScheduler(deps))
	})
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"timestamp": deps.Now().UTC(),
			"service":   serviceName,
		})
	}
}

func handleProcess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := deps.Pipeline.ProcessAll(context.WithoutCancel(r.Context()))
		if errors.Is(res.Error, alert.ErrRunInProgress) {
			httpError(w, http.StatusConflict, "alert run already in progress", "")
			return
		}

		body := map[string]any{
			"success":   res.Success,
			"runId":     res.RunID,
			"timestamp": res.FinishedAt.UTC(),
			"startTime": res.StartedAt.UTC(),
			"duration":  seconds(res.Duration),
			"results": map[string]int{
				"usersProcessed":    res.UsersProcessed,
				"usersFailed":       res.UsersFailed,
				"jobsFound":         res.JobsFound,
				"notificationsSent": res.NotificationsSent,
			},
		}
		if res.Success {
			body["message"] = "Alert processing completed successfully"
		} else {
			body["message"] = "Alert processing failed"
			body["error"] = res.Error.Error()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

type cleanupRequest struct {
	RetentionDays int `json:"retentionDays"`
}

func handleCleanup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cleanupRequest
		if err := decodeOptional(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		if req.RetentionDays < 0 {
			httpError(w, http.StatusBadRequest, "retentionDays must be positive", "")
			return
		}
		days := req.RetentionDays
		if days == 0 {
			days = deps.RetentionDays
		}

		res := deps.Pipeline.Cleanup(context.WithoutCancel(r.Context()), days)
		body := map[string]any{
			"success":   res.Success,
			"timestamp": res.FinishedAt.UTC(),
			"startTime": res.StartedAt.UTC(),
			"duration":  seconds(res.Duration),
			"results": map[string]any{
				"deletedJobsCount": res.DeletedJobsCount,
				"cutoffDate":       res.CutoffDate.UTC(),
			},
		}
		code := http.StatusOK
		if !res.Success {
			body["error"] = res.Error.Error()
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, body)
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		now := deps.Now()
		st, err := deps.Stats.Stats(r.Context(), now.AddDate(0, 0, -recentWindowDays), now.AddDate(0, 0, -deps.RetentionDays))
		if err != nil {
			deps.Logger.Error("status query failed", "error", err)
			httpError(w, http.StatusInternalServerError, "failed to get job status", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"timestamp":     now.UTC(),
			"queryDuration": fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
			"system": map[string]string{
				"status":  "healthy",
				"service": serviceName,
			},
			"database": map[string]any{
				"users": map[string]int64{
					"total":  st.SubscribersTotal,
					"active": st.SubscribersActive,
				},
				"jobSearches": map[string]int64{
					"total":  st.SearchesTotal,
					"active": st.SearchesActive,
				},
				"jobPostings": map[string]int64{
					"total":              st.PostingsTotal,
					"recentWeek":         st.PostingsRecentWeek,
					"eligibleForCleanup": st.PostingsEligible,
				},
				"notifications": map[string]int64{
					"total": st.NotificationsTotal,
				},
			},
		})
	}
}

type triggerRequest struct {
	ChatID string `json:"chatId"`
}

func handleTrigger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triggerRequest
		if err := decodeOptional(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		req.ChatID = strings.TrimSpace(req.ChatID)
		if req.ChatID == "" {
			httpError(w, http.StatusBadRequest, "missing required field: chatId", "")
			return
		}

		start := time.Now()
		sub, counts, err := deps.Pipeline.ProcessSubscriberByChatID(context.WithoutCancel(r.Context()), req.ChatID)
		if errors.Is(err, model.ErrNotFound) {
			httpError(w, http.StatusNotFound, fmt.Sprintf("user with chatId %s not found", req.ChatID), "")
			return
		}
		if errors.Is(err, alert.ErrRunInProgress) {
			httpError(w, http.StatusConflict, "alert run already in progress", "")
			return
		}
		if err != nil {
			deps.Logger.Error("manual trigger failed", "chat_id", req.ChatID, "error", err)
			httpError(w, http.StatusInternalServerError, "internal server error", err.Error())
			return
		}

		deps.Logger.Info("manual trigger completed", "chat_id", req.ChatID, "notifications_sent", counts.NotificationsSent)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"timestamp": deps.Now().UTC(),
			"user": map[string]string{
				"chatId":    sub.ChatID,
				"firstName": sub.Name,
				"username":  sub.Username,
			},
			"results": map[string]any{
				"duration":          seconds(time.Since(start)),
				"jobsFound":         counts.JobsFound,
				"notificationsSent": counts.NotificationsSent,
			},
		})
	}
}

type testRequest struct {
	Keywords  []string `json:"keywords"`
	Locations []string `json:"locations"`
	ChatID    string   `json:"chatId"`
}

type jobSample struct {
	Title      string       `json:"title"`
	Company    string       `json:"company"`
	Location   string       `json:"location"`
	Source     model.Source `json:"source"`
	PostedDate time.Time    `json:"postedDate"`
}

// handleTest runs a search without touching history. When chatId is set the
// first listing is sent there as a manual alert.
func handleTest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req testRequest
		if err := decodeOptional(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		search := model.SavedSearch{
			Keywords:   model.CleanTerms(req.Keywords),
			Locations:  model.CleanTerms(req.Locations),
			MaxAgeDays: model.DefaultMaxAgeDays,
		}
		if err := search.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "missing required fields: keywords, locations", err.Error())
			return
		}

		start := time.Now()
		jobs := deps.Fetcher.Fetch(r.Context(), search.Keywords, search.Locations)
		elapsed := time.Since(start)

		sent := false
		if req.ChatID != "" && len(jobs) > 0 {
			if err := deps.Sender.Send(r.Context(), req.ChatID, notifier.FormatManualMessage(jobs[0])); err != nil {
				deps.Logger.Error("test notification failed", "chat_id", req.ChatID, "error", err)
			} else {
				sent = true
			}
		}

		sample := make([]jobSample, 0, sampleSize)
		for _, j := range jobs[:min(len(jobs), sampleSize)] {
			sample = append(sample, jobSample{
				Title:      j.Title,
				Company:    j.Company,
				Location:   j.Location,
				Source:     j.Source,
				PostedDate: j.PostedAt,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"timestamp": deps.Now().UTC(),
			"testCriteria": map[string]any{
				"keywords":  search.Keywords,
				"locations": search.Locations,
				"chatId":    req.ChatID,
			},
			"results": map[string]any{
				"totalJobs":            len(jobs),
				"scrapingDuration":     seconds(elapsed),
				"testNotificationSent": sent,
				"jobsSample":           sample,
			},
		})
	}
}

func handleScheduler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Scheduler == nil {
			httpError(w, http.StatusServiceUnavailable, "scheduler not enabled", "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"timestamp": deps.Now().UTC(),
			"scheduler": deps.Scheduler.Status(),
		})
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(math.Round(d.Seconds())))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg, details string) {
	body := map[string]any{
		"success":   false,
		"timestamp": time.Now().UTC(),
		"error":     msg,
	}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, code, body)
}
