package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amishk599/jobalert/internal/alert"
	"github.com/amishk599/jobalert/internal/model"
)

const (
	DefaultAlertsSpec    = "0 */2 * * *"
	DefaultCleanupSpec   = "0 2 * * *"
	DefaultHeartbeatSpec = "*/30 * * * *"
	DefaultTimezone      = "Europe/Zurich"
	DefaultRetentionDays = 90
)

// Runner is the work the scheduler triggers.
type Runner interface {
	ProcessAll(ctx context.Context) alert.RunResult
	Cleanup(ctx context.Context, retentionDays int) alert.CleanupResult
	Running() bool
}

// Options configures the schedules. Empty fields take the defaults above.
type Options struct {
	Location      *time.Location
	AlertsSpec    string
	CleanupSpec   string
	HeartbeatSpec string
	RetentionDays int
	Alerter       model.OpsAlerter // optional; notified when a scheduled run fails
}

// TaskStatus describes one registered task.
type TaskStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"nextRun"`
	Prev     time.Time `json:"previousRun"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running  bool         `json:"running"`
	Timezone string       `json:"timezone"`
	Tasks    []TaskStatus `json:"tasks"`
}

type task struct {
	name string
	spec string
	id   cron.EntryID
}

// Scheduler fires the alert pass, the retention cleanup and a heartbeat on
// cron schedules. A task that is still running when its next tick arrives is
// skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	opts   Options
	logger *slog.Logger
	tasks  []task

	mu      sync.Mutex
	ctx     context.Context
	running bool
}

// New validates the schedules and registers the tasks. Nothing fires until Run.
func New(runner Runner, logger *slog.Logger, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %s: %w", DefaultTimezone, err)
		}
		opts.Location = loc
	}
	if opts.AlertsSpec == "" {
		opts.AlertsSpec = DefaultAlertsSpec
	}
	if opts.CleanupSpec == "" {
		opts.CleanupSpec = DefaultCleanupSpec
	}
	if opts.HeartbeatSpec == "" {
		opts.HeartbeatSpec = DefaultHeartbeatSpec
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		opts:   opts,
		logger: logger,
		ctx:    context.Background(),
	}

	for _, t := range []struct {
		name string
		spec string
		fn   func()
	}{
		{"alerts", opts.AlertsSpec, s.runAlerts},
		{"cleanup", opts.CleanupSpec, s.runCleanup},
		{"heartbeat", opts.HeartbeatSpec, s.heartbeat},
	} {
		id, err := s.cron.AddFunc(t.spec, t.fn)
		if err != nil {
			return nil, fmt.Errorf("scheduling %s task %q: %w", t.name, t.spec, err)
		}
		s.tasks = append(s.tasks, task{name: t.name, spec: t.spec, id: id})
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is cancelled. It then waits
// for in-flight tasks to return and reports nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting scheduler",
		"timezone", s.opts.Location.String(),
		"alerts", s.opts.AlertsSpec,
		"cleanup", s.opts.CleanupSpec,
		"heartbeat", s.opts.HeartbeatSpec,
	)
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Status lists the tasks with their next and previous fire times.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	st := Status{Running: running, Timezone: s.opts.Location.String()}
	for _, t := range s.tasks {
		e := s.cron.Entry(t.id)
		st.Tasks = append(st.Tasks, TaskStatus{Name: t.name, Schedule: t.spec, Next: e.Next, Prev: e.Prev})
	}
	return st
}

func (s *Scheduler) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runAlerts() {
	ctx := s.runCtx()
	res := s.runner.ProcessAll(ctx)
	if res.Success {
		return
	}
	if errors.Is(res.Error, alert.ErrRunInProgress) {
		s.logger.Warn("scheduled alert run skipped, another run is in progress")
		return
	}
	s.logger.Error("scheduled alert run failed", "run_id", res.RunID, "error", res.Error)
	s.notify(ctx, "Scheduled alert run failed",
		model.AlertField{Label: "Run", Value: res.RunID},
		model.AlertField{Label: "Users processed", Value: strconv.Itoa(res.UsersProcessed)},
		model.AlertField{Label: "Users failed", Value: strconv.Itoa(res.UsersFailed)},
		model.AlertField{Label: "Error", Value: errString(res.Error)},
	)
}

func (s *Scheduler) runCleanup() {
	ctx := s.runCtx()
	res := s.runner.Cleanup(ctx, s.opts.RetentionDays)
	if res.Success {
		return
	}
	s.notify(ctx, "Scheduled cleanup failed",
		model.AlertField{Label: "Retention", Value: strconv.Itoa(s.opts.RetentionDays) + " days"},
		model.AlertField{Label: "Error", Value: errString(res.Error)},
	)
}

func (s *Scheduler) heartbeat() {
	s.logger.Info("heartbeat", "tasks", len(s.tasks), "alert_run_active", s.runner.Running())
}

func (s *Scheduler) notify(ctx context.Context, title string, fields ...model.AlertField) {
	if s.opts.Alerter == nil {
		return
	}
	if err := s.opts.Alerter.Alert(ctx, title, fields...); err != nil {
		s.logger.Error("ops alert failed", "title", title, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
