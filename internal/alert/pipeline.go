// Package alert runs the notification pass: for every active subscriber and
// saved search it fetches listings, drops stale and already-notified ones,
// persists the rest, sends one chat message per listing and records history.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/jobalert/internal/filter"
	"github.com/amishk599/jobalert/internal/model"
	"github.com/amishk599/jobalert/internal/notifier"
	"github.com/amishk599/jobalert/internal/ratelimit"
)

// ErrRunInProgress is reported when a pass is requested while another one is
// still running.
var ErrRunInProgress = errors.New("alert run already in progress")

// Fetcher returns merged listings for a search. It does not fail; sources
// that error simply contribute nothing.
type Fetcher interface {
	Fetch(ctx context.Context, keywords, locations []string) []model.JobMatch
}

const (
	DefaultSendDelay       = 500 * time.Millisecond
	DefaultSubscriberDelay = time.Second
	DefaultRunTimeout      = 30 * time.Minute
)

// Counts is what a search, subscriber or run contributed.
type Counts struct {
	JobsFound         int `json:"jobsFound"`
	NotificationsSent int `json:"notificationsSent"`
}

func (c *Counts) add(o Counts) {
	c.JobsFound += o.JobsFound
	c.NotificationsSent += o.NotificationsSent
}

// RunResult summarizes one ProcessAll pass.
type RunResult struct {
	RunID             string
	Success           bool
	StartedAt         time.Time
	FinishedAt        time.Time
	Duration          time.Duration
	UsersProcessed    int
	UsersFailed       int
	JobsFound         int
	NotificationsSent int
	Error             error
}

// CleanupResult summarizes one retention pass.
type CleanupResult struct {
	Success          bool
	DeletedJobsCount int64
	CutoffDate       time.Time
	StartedAt        time.Time
	FinishedAt       time.Time
	Duration         time.Duration
	Error            error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSendDelay sets the minimum gap between two messages to the same chat.
func WithSendDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.sendLimiter = ratelimit.NewKeyedLimiter(d) }
}

// WithSubscriberDelay sets the pause between subscribers in a pass.
func WithSubscriberDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.subscriberDelay = d }
}

// WithRecordOnDispatchFailure controls whether a listing whose message failed
// is still recorded as notified. Recording avoids resending to chats that
// block the bot, at the cost of losing alerts on transient send failures.
func WithRecordOnDispatchFailure(record bool) Option {
	return func(p *Pipeline) { p.recordOnFailure = record }
}

// WithRunTimeout bounds a whole ProcessAll pass. Zero disables the bound.
func WithRunTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.runTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithFormatter overrides the chat message renderer.
func WithFormatter(format func(model.JobMatch) string) Option {
	return func(p *Pipeline) { p.format = format }
}

// Pipeline is the alert engine. A single Pipeline must be shared by every
// trigger so the in-progress guard covers them all.
type Pipeline struct {
	store   model.AlertStore
	fetcher Fetcher
	sender  model.ChatSender
	logger  *slog.Logger

	sendLimiter     *ratelimit.KeyedLimiter
	subscriberDelay time.Duration
	recordOnFailure bool
	runTimeout      time.Duration
	now             func() time.Time
	format          func(model.JobMatch) string

	running atomic.Bool
}

// New creates a pipeline with the default pacing and policies.
func New(store model.AlertStore, fetcher Fetcher, sender model.ChatSender, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:           store,
		fetcher:         fetcher,
		sender:          sender,
		logger:          logger,
		sendLimiter:     ratelimit.NewKeyedLimiter(DefaultSendDelay),
		subscriberDelay: DefaultSubscriberDelay,
		recordOnFailure: true,
		runTimeout:      DefaultRunTimeout,
		now:             time.Now,
		format:          notifier.FormatJobMessage,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Running reports whether an alert pass, scheduled or manual, is in flight.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// ProcessAll runs one pass over every active subscriber. A failing subscriber
// is logged and counted; the pass continues with the next one. When the run
// budget or ctx expires the remaining subscribers are skipped and the result
// carries the partial counts.
func (p *Pipeline) ProcessAll(ctx context.Context) RunResult {
	res := RunResult{RunID: uuid.NewString(), StartedAt: p.now()}
	if !p.running.CompareAndSwap(false, true) {
		res.Error = ErrRunInProgress
		return p.finish(res)
	}
	defer p.running.Store(false)

	logger := p.logger.With("run_id", res.RunID)
	if p.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.runTimeout)
		defer cancel()
	}

	subs, err := p.store.ActiveSubscribers(ctx)
	if err != nil {
		res.Error = fmt.Errorf("loading active subscribers: %w", err)
		logger.Error("alert run failed", "error", res.Error)
		return p.finish(res)
	}
	logger.Info("alert run started", "subscribers", len(subs))

	for i, sub := range subs {
		if i > 0 && p.subscriberDelay > 0 {
			if err := sleep(ctx, p.subscriberDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		res.UsersProcessed++
		counts, err := p.ProcessSubscriber(ctx, sub)
		res.JobsFound += counts.JobsFound
		res.NotificationsSent += counts.NotificationsSent
		if err != nil {
			res.UsersFailed++
			logger.Error("subscriber failed", "chat_id", sub.ChatID, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		res.Error = fmt.Errorf("alert run interrupted after %d of %d subscribers: %w", res.UsersProcessed, len(subs), err)
	} else {
		res.Success = true
	}
	res = p.finish(res)

	logger.Info("alert run finished",
		"success", res.Success,
		"users_processed", res.UsersProcessed,
		"users_failed", res.UsersFailed,
		"jobs_found", res.JobsFound,
		"notifications_sent", res.NotificationsSent,
		"duration", res.Duration,
	)
	return res
}

func (p *Pipeline) finish(res RunResult) RunResult {
	res.FinishedAt = p.now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	return res
}

// ProcessSubscriberByChatID runs all of one subscriber's active searches,
// whether or not the subscriber is paused. It returns model.ErrNotFound for
// unknown chats and ErrRunInProgress while another pass is in flight.
func (p *Pipeline) ProcessSubscriberByChatID(ctx context.Context, chatID string) (model.Subscriber, Counts, error) {
	if !p.running.CompareAndSwap(false, true) {
		return model.Subscriber{}, Counts{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	sub, err := p.store.SubscriberByChatID(ctx, chatID)
	if err != nil {
		return model.Subscriber{}, Counts{}, err
	}
	counts, err := p.ProcessSubscriber(ctx, sub)
	return sub, counts, err
}

// ProcessSubscriber runs the subscriber's active searches one after another.
// A failing search is logged and contributes nothing. The chat's pacing
// state is dropped once the subscriber is done.
func (p *Pipeline) ProcessSubscriber(ctx context.Context, sub model.Subscriber) (Counts, error) {
	defer p.sendLimiter.Forget(sub.ChatID)

	searches, err := p.store.ActiveSearches(ctx, sub.ID)
	if err != nil {
		return Counts{}, fmt.Errorf("loading searches for %s: %w", sub.ChatID, err)
	}
	if len(searches) == 0 {
		p.logger.Debug("subscriber has no active searches", "chat_id", sub.ChatID)
		return Counts{}, nil
	}

	var total Counts
	for _, search := range searches {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		counts, err := p.ProcessSearch(ctx, sub, search)
		if err != nil {
			p.logger.Error("search failed", "chat_id", sub.ChatID, "search_id", search.ID, "error", err)
			continue
		}
		total.add(counts)
	}
	return total, nil
}

// ProcessSearch runs one saved search for one subscriber.
func (p *Pipeline) ProcessSearch(ctx context.Context, sub model.Subscriber, search model.SavedSearch) (Counts, error) {
	logger := p.logger.With("chat_id", sub.ChatID, "search_id", search.ID)

	jobs := p.fetcher.Fetch(ctx, search.Keywords, search.Locations)
	recent := filter.Recent(jobs, search.MaxAgeDays, p.now())
	if len(recent) == 0 {
		logger.Debug("no recent listings", "fetched", len(jobs))
		return Counts{}, nil
	}

	unseen, err := p.unseen(ctx, sub.ID, recent)
	if err != nil {
		return Counts{}, err
	}
	counts := Counts{JobsFound: len(recent)}
	if len(unseen) == 0 {
		logger.Debug("nothing new", "recent", len(recent))
		return counts, nil
	}

	postingIDs, err := p.store.SavePostings(ctx, unseen)
	if err != nil {
		return Counts{}, fmt.Errorf("saving postings: %w", err)
	}

	attempted, delivered := p.dispatch(ctx, logger, sub.ChatID, unseen)
	counts.NotificationsSent = attempted

	var record []int64
	for i, j := range unseen[:attempted] {
		if !delivered[i] && !p.recordOnFailure {
			continue
		}
		if id, ok := postingIDs[j.ID]; ok {
			record = append(record, id)
		}
	}
	// Messages already went out; record them even if the run is being cancelled.
	if err := p.store.RecordNotifications(context.WithoutCancel(ctx), sub.ID, record, p.now()); err != nil {
		logger.Error("recording notifications failed", "count", len(record), "error", err)
	}

	logger.Info("search processed",
		"fetched", len(jobs),
		"recent", len(recent),
		"unseen", len(unseen),
		"attempted", attempted,
		"recorded", len(record),
	)
	return counts, nil
}

// Preview reports what ProcessSearch would send, without saving postings,
// sending messages or recording history.
func (p *Pipeline) Preview(ctx context.Context, sub model.Subscriber, search model.SavedSearch) (fetched, pending []model.JobMatch, err error) {
	fetched = p.fetcher.Fetch(ctx, search.Keywords, search.Locations)
	recent := filter.Recent(fetched, search.MaxAgeDays, p.now())
	if len(recent) == 0 {
		return fetched, nil, nil
	}
	pending, err = p.unseen(ctx, sub.ID, recent)
	if err != nil {
		return fetched, nil, err
	}
	return fetched, pending, nil
}

// unseen drops listings already notified to the subscriber, using one
// batched lookup, and collapses repeated external ids.
func (p *Pipeline) unseen(ctx context.Context, subscriberID int64, recent []model.JobMatch) ([]model.JobMatch, error) {
	ids := make([]string, len(recent))
	for i, j := range recent {
		ids[i] = j.ID
	}
	seen, err := p.store.NotifiedExternalIDs(ctx, subscriberID, ids)
	if err != nil {
		return nil, fmt.Errorf("checking notification history: %w", err)
	}

	out := make([]model.JobMatch, 0, len(recent))
	taken := make(map[string]bool, len(recent))
	for _, j := range recent {
		if seen[j.ID] || taken[j.ID] {
			continue
		}
		taken[j.ID] = true
		out = append(out, j)
	}
	return out, nil
}

// dispatch sends one message per listing, paced per chat. A failed send is
// logged and does not stop the rest. It stops early only when ctx ends, and
// returns how many sends were attempted and which of them succeeded.
func (p *Pipeline) dispatch(ctx context.Context, logger *slog.Logger, chatID string, jobs []model.JobMatch) (int, []bool) {
	delivered := make([]bool, len(jobs))
	for i, j := range jobs {
		if err := p.sendLimiter.Wait(ctx, chatID); err != nil {
			logger.Warn("dispatch interrupted", "sent", i, "remaining", len(jobs)-i, "error", err)
			return i, delivered
		}
		if err := p.sender.Send(ctx, chatID, p.format(j)); err != nil {
			logger.Error("send failed", "job_id", j.ID, "title", j.Title, "error", err)
			continue
		}
		delivered[i] = true
	}
	return len(jobs), delivered
}

// Cleanup deletes postings stored more than retentionDays ago, along with
// their notification history.
func (p *Pipeline) Cleanup(ctx context.Context, retentionDays int) CleanupResult {
	res := CleanupResult{StartedAt: p.now()}
	res.CutoffDate = res.StartedAt.AddDate(0, 0, -retentionDays)

	n, err := p.store.DeletePostingsBefore(ctx, res.CutoffDate)
	res.FinishedAt = p.now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	if err != nil {
		res.Error = fmt.Errorf("cleanup: %w", err)
		p.logger.Error("cleanup failed", "retention_days", retentionDays, "error", err)
		return res
	}

	res.Success = true
	res.DeletedJobsCount = n
	p.logger.Info("cleanup finished", "retention_days", retentionDays, "cutoff", res.CutoffDate, "deleted", n)
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
