// Package api provides the HTTP server for GoalPipe.
//
// It serves the health check that keeps hosted deployments awake, the Twilio webhook,
// read-only diagnostics over the scheduler and the record store, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/progress"
	"github.com/BTreeMap/GoalPipe/internal/scheduler"
	"github.com/BTreeMap/GoalPipe/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second
)

// JobSource is the part of the scheduler the diagnostics endpoints read.
type JobSource interface {
	ListActive() []scheduler.JobInfo
	Trigger(key string) bool
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	Location *time.Location
	Clock    func() time.Time
	Webhook  http.HandlerFunc // Twilio webhook; nil when Twilio is not the transport
	Sessions func() int       // active conversation sessions, reported by /health
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithLocation sets the timezone used to compute "today" for progress.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithTwilioWebhook mounts h at POST /webhook/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.Webhook = h }
}

// WithSessionCount reports the number of active sessions on /health.
func WithSessionCount(fn func() int) Option {
	return func(o *Opts) { o.Sessions = fn }
}

// Server is the GoalPipe HTTP server.
type Server struct {
	st    store.Store
	jobs  JobSource
	opts  Opts
	mux   *http.ServeMux
	start time.Time
}

// NewServer creates a Server reading records from st and jobs from jobs.
func NewServer(st store.Store, jobs JobSource, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, Location: time.Local, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{st: st, jobs: jobs, opts: cfg, mux: http.NewServeMux(), start: cfg.Clock()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/jobs", s.jobsHandler)
	s.mux.HandleFunc("/jobs/trigger", s.triggerHandler)
	s.mux.HandleFunc("/users/", s.usersHandler)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.opts.Webhook != nil {
		s.mux.HandleFunc("/webhook/twilio", s.webhookHandler)
		slog.Debug("Server mounted Twilio webhook", "path", "/webhook/twilio")
	}
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("API server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	return nil
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	slog.Warn("Server method not allowed", "method", r.Method, "path", r.URL.Path)
	methodNotAllowed(w, method)
	return false
}

// healthHandler answers the keep-alive ping.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	now := s.opts.Clock()
	healthData := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   now.UTC().Format(time.RFC3339),
		"uptime":      now.Sub(s.start).Round(time.Second).String(),
		"active_jobs": len(s.jobs.ListActive()),
	}
	if s.opts.Sessions != nil {
		healthData["active_sessions"] = s.opts.Sessions()
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.opts.Webhook(w, r)
}

// jobsHandler lists every scheduled reminder job (GET /jobs).
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	jobs := s.jobs.ListActive()
	slog.Debug("Server.jobsHandler: listing jobs", "count", len(jobs))
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	}))
}

// triggerHandler fires one job now (POST /jobs/trigger?key=...).
func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing key parameter"))
		return
	}
	if !s.jobs.Trigger(key) {
		slog.Warn("Server.triggerHandler: job not found", "key", key)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Job not found"))
		return
	}
	slog.Info("Server.triggerHandler: job triggered", "key", key)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Job triggered", map[string]string{"key": key}))
}

// usersHandler routes /users/{id}/progress.
func (s *Server) usersHandler(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/users/"), "/"), "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] != "progress" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown user endpoint"))
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.progressHandler(w, r, segments[0])
}

// ProgressReport is the JSON body of GET /users/{id}/progress.
type ProgressReport struct {
	UserID      string          `json:"user_id"`
	Date        string          `json:"date"`
	Weekly      progress.Weekly `json:"weekly"`
	Streak      int             `json:"streak"`
	DaysChecked int             `json:"days_checked_in"`
	Recent      []string        `json:"recent"`
}

func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request, userID string) {
	// List rather than Get: a lookup must not create a record.
	records, err := s.st.List(r.Context())
	if err != nil {
		slog.Error("Server.progressHandler: failed to list records", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read records"))
		return
	}
	rec, ok := records[userID]
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("User not found"))
		return
	}

	today := s.opts.Clock().In(s.opts.Location)
	report := ProgressReport{
		UserID:      userID,
		Date:        models.DateKey(today),
		Weekly:      progress.WeeklyProgress(rec, today),
		Streak:      progress.Streak(rec, today),
		DaysChecked: progress.TotalDaysCheckedIn(rec),
		Recent:      progress.RecentCheckinDates(rec, progress.DefaultRecentCount),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(report))
}
