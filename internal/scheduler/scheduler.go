// Package scheduler provides the daily reminder scheduler for GoalPipe.
//
// Jobs are keyed by JobKey(userID, goal); scheduling an existing key replaces the
// previous trigger. Triggers fire at a wall-clock time in one fixed timezone, and
// every invocation runs behind a single error boundary so that a failing callback is
// logged and the job stays registered for the next day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/metrics"
	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/robfig/cron/v3"
)

// DefaultCallbackTimeout bounds a single callback invocation.
const DefaultCallbackTimeout = 1 * time.Minute

// Callback is invoked each time a job fires.
type Callback func(ctx context.Context) error

// JobInfo describes an active job for diagnostics.
type JobInfo struct {
	Key    string              `json:"key"`
	UserID string              `json:"user_id"`
	Goal   string              `json:"goal"`
	Time   models.ReminderTime `json:"time"`
	Next   time.Time           `json:"next"`
}

// Opts holds configuration options for the Scheduler.
type Opts struct {
	Location *time.Location
	Clock    func() time.Time
}

// Option defines a configuration option for the Scheduler.
type Option func(*Opts)

// WithLocation sets the fixed timezone in which reminder times are interpreted.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the clock used for next-fire computation in ListActive.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

type job struct {
	entryID  cron.EntryID
	userID   string
	goal     string
	time     models.ReminderTime
	schedule cron.Schedule
	callback Callback
}

// Scheduler provides cron-based daily reminder jobs keyed by a deterministic id.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	loc    *time.Location
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := Opts{Location: time.Local, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)
	c.Start()

	s := &Scheduler{
		cron:   c,
		parser: parser,
		loc:    cfg.Location,
		now:    cfg.Clock,
		jobs:   make(map[string]*job),
	}
	slog.Info("Scheduler started", "location", cfg.Location.String())
	return s
}

// Location returns the scheduler's fixed timezone.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Schedule registers a daily trigger for userID's goal at t, replacing any job with
// the same key. It returns the job key.
func (s *Scheduler) Schedule(userID, goal string, t models.ReminderTime, cb Callback) (string, error) {
	if !t.Valid() {
		return "", models.ErrInvalidTimeFormat
	}
	if cb == nil {
		return "", fmt.Errorf("scheduler: nil callback for goal %q", goal)
	}
	key := JobKey(userID, goal)
	spec := fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[key]; ok {
		s.cron.Remove(old.entryID)
		slog.Debug("Scheduler Schedule replacing job", "key", key, "old_time", old.time.String(), "new_time", t.String())
	}
	j := &job{userID: userID, goal: goal, time: t, schedule: sched, callback: cb}
	j.entryID = s.cron.Schedule(sched, cron.FuncJob(func() { s.runGuarded(key, cb) }))
	s.jobs[key] = j

	slog.Info("Scheduler Schedule succeeded", "key", key, "userID", userID, "time", t.String())
	return key, nil
}

// Cancel removes the job for key. It reports whether a job existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

func (s *Scheduler) cancelLocked(key string) bool {
	j, ok := s.jobs[key]
	if !ok {
		slog.Debug("Scheduler Cancel: job not found", "key", key)
		return false
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, key)
	slog.Info("Scheduler Cancel succeeded", "key", key)
	return true
}

// CancelMatching removes every job whose key satisfies pred and returns how many were removed.
func (s *Scheduler) CancelMatching(pred func(key string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key := range s.jobs {
		if pred(key) && s.cancelLocked(key) {
			removed++
		}
	}
	return removed
}

// CancelUser removes every job belonging to userID.
func (s *Scheduler) CancelUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, j := range s.jobs {
		if j.userID == userID && s.cancelLocked(key) {
			removed++
		}
	}
	slog.Debug("Scheduler CancelUser", "userID", userID, "removed", removed)
	return removed
}

// Has reports whether a job is registered for key.
func (s *Scheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// ListActive returns every job with its next fire time, sorted by key.
func (s *Scheduler) ListActive() []JobInfo {
	now := s.now().In(s.loc)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for key, j := range s.jobs {
		out = append(out, JobInfo{
			Key:    key,
			UserID: j.userID,
			Goal:   j.goal,
			Time:   j.time,
			Next:   j.schedule.Next(now),
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key < out[k].Key })
	return out
}

// Trigger runs the job for key immediately, behind the same error boundary as a
// scheduled fire. It reports whether the job exists.
func (s *Scheduler) Trigger(key string) bool {
	s.mu.Lock()
	j, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.runGuarded(key, j.callback)
	return true
}

// runGuarded is the error boundary around every callback invocation.
// Errors and panics are logged and counted; they never reach the cron runner and
// never unregister the job.
func (s *Scheduler) runGuarded(key string, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ReminderFailures.WithLabelValues("panic").Inc()
			slog.Error("Scheduler job panicked", "key", key, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultCallbackTimeout)
	defer cancel()

	start := time.Now()
	if err := cb(ctx); err != nil {
		metrics.ReminderFailures.WithLabelValues("error").Inc()
		slog.Error("Scheduler job failed", "key", key, "error", err, "elapsed", time.Since(start))
		return
	}
	metrics.RemindersFired.Inc()
	slog.Debug("Scheduler job completed", "key", key, "elapsed", time.Since(start))
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler stopped")
}
