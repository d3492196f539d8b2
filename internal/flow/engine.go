package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/metrics"
	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/progress"
	"github.com/BTreeMap/GoalPipe/internal/scheduler"
	"github.com/BTreeMap/GoalPipe/internal/store"
)

// Command names, without the leading slash.
const (
	CmdStart        = "start"
	CmdHelp         = "help"
	CmdSetGoals     = "setgoals"
	CmdDone         = "done"
	CmdCancel       = "cancel"
	CmdCheckin      = "checkin"
	CmdProgress     = "progress"
	CmdSetReminder  = "setreminder"
	CmdStopReminder = "stopreminder"
	CmdReminders    = "reminders"
	CmdJobs         = "jobs"
)

// Goal menu choices carried in "menu:<choice>" tokens.
const (
	menuAdd   = "add"
	menuClear = "clear"
	menuKeep  = "keep"
)

var errStaleButton = errors.New("button refers to an item that no longer exists")

// ReminderScheduler is the part of the scheduler the engine drives.
type ReminderScheduler interface {
	Schedule(userID, goal string, t models.ReminderTime, cb scheduler.Callback) (string, error)
	Cancel(key string) bool
	CancelUser(userID string) int
	ListActive() []scheduler.JobInfo
}

// EngineOpts holds configuration options for the Engine.
type EngineOpts struct {
	Location   *time.Location
	Clock      func() time.Time
	SessionTTL time.Duration
	Dispatcher *ReminderDispatcher
}

// EngineOption defines a configuration option for the Engine.
type EngineOption func(*EngineOpts)

// WithLocation sets the timezone that defines "today".
func WithLocation(loc *time.Location) EngineOption {
	return func(o *EngineOpts) { o.Location = loc }
}

// WithClock overrides the engine's clock.
func WithClock(now func() time.Time) EngineOption {
	return func(o *EngineOpts) { o.Clock = now }
}

// WithSessionTTL sets how long an inactive session survives.
func WithSessionTTL(ttl time.Duration) EngineOption {
	return func(o *EngineOpts) { o.SessionTTL = ttl }
}

// WithDispatcher sets the dispatcher whose callbacks are scheduled for new reminders.
func WithDispatcher(d *ReminderDispatcher) EngineOption {
	return func(o *EngineOpts) { o.Dispatcher = d }
}

// Engine handles inbound events for every chat.
type Engine struct {
	store      store.Store
	scheduler  ReminderScheduler
	dispatcher *ReminderDispatcher
	sessions   *SessionStore
	loc        *time.Location
	now        func() time.Time
}

// NewEngine creates an Engine. A nil scheduler or dispatcher makes reminder
// scheduling unavailable; reminder times are still persisted.
func NewEngine(st store.Store, sched ReminderScheduler, opts ...EngineOption) *Engine {
	cfg := EngineOpts{Location: time.Local, Clock: time.Now, SessionTTL: DefaultSessionTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		store:      st,
		scheduler:  sched,
		dispatcher: cfg.Dispatcher,
		sessions:   NewSessionStore(cfg.SessionTTL),
		loc:        cfg.Location,
		now:        cfg.Clock,
	}
}

// Sessions exposes the engine's session store.
func (e *Engine) Sessions() *SessionStore {
	return e.sessions
}

// Handle processes one inbound event and returns the replies for the chat.
// Events for the same chat are handled one at a time.
func (e *Engine) Handle(ctx context.Context, ev models.Event) []models.OutboundMessage {
	if ev.ChatID == "" {
		slog.Warn("Engine Handle: event without chat", "kind", ev.Kind)
		return nil
	}
	if ev.UserID == "" {
		ev.UserID = ev.ChatID
	}

	unlock := e.sessions.Lock(ev.ChatID)
	defer unlock()

	state := e.sessions.Get(ev.ChatID)
	if ev.Kind == models.EventButton && ev.Typed && collectsText(state) {
		ev.Kind = models.EventText
	}

	metrics.EventsHandled.WithLabelValues(string(ev.Kind)).Inc()
	slog.Debug("Engine Handle", "kind", ev.Kind, "name", ev.Name, "chatID", ev.ChatID, "userID", ev.UserID,
		"state", state.Name())

	switch ev.Kind {
	case models.EventCommand:
		return e.handleCommand(ctx, ev)
	case models.EventText:
		return e.handleText(ctx, ev)
	case models.EventButton:
		return e.handleButton(ctx, ev)
	default:
		slog.Warn("Engine Handle: unknown event kind", "kind", ev.Kind, "chatID", ev.ChatID)
		return nil
	}
}

// collectsText reports whether st consumes free text, so a typed token is input there.
func collectsText(st State) bool {
	switch st.(type) {
	case AddingGoals, SettingReminderTime:
		return true
	}
	return false
}

func reply(ev models.Event, body string, buttons ...models.Button) []models.OutboundMessage {
	return []models.OutboundMessage{{
		To:      ev.ChatID,
		Body:    body,
		Format:  models.FormatMarkdown,
		Buttons: buttons,
	}}
}

func (e *Engine) today() time.Time {
	return e.now().In(e.loc)
}

func (e *Engine) storeFailed(ev models.Event, op string, err error) []models.OutboundMessage {
	slog.Error("Engine store operation failed", "op", op, "userID", ev.UserID, "error", err)
	return reply(ev, storeErrorText())
}

func (e *Engine) noGoals(ev models.Event) []models.OutboundMessage {
	e.sessions.Clear(ev.ChatID)
	slog.Debug("Engine flow aborted", "reason", models.ErrNoGoalsConfigured, "chatID", ev.ChatID)
	return reply(ev, noGoalsText())
}

func (e *Engine) handleCommand(ctx context.Context, ev models.Event) []models.OutboundMessage {
	switch strings.ToLower(ev.Name) {
	case CmdStart:
		return e.start(ctx, ev)
	case CmdHelp:
		return reply(ev, HelpText())
	case CmdSetGoals:
		return e.setGoals(ctx, ev)
	case CmdDone:
		return e.finishGoals(ctx, ev)
	case CmdCancel:
		return e.cancel(ev)
	case CmdCheckin:
		return e.checkin(ctx, ev)
	case CmdProgress:
		return e.progress(ctx, ev)
	case CmdSetReminder:
		return e.setReminder(ctx, ev)
	case CmdStopReminder:
		return e.stopReminder(ctx, ev)
	case CmdReminders:
		return e.listReminders(ctx, ev)
	case CmdJobs:
		return e.listJobs(ev)
	default:
		return reply(ev, fmt.Sprintf("🤔 Unknown command /%s\n\n%s", ev.Name, HelpText()))
	}
}

// start binds the chat as the user's reminder destination.
func (e *Engine) start(ctx context.Context, ev models.Event) []models.OutboundMessage {
	_, err := e.store.Update(ctx, ev.UserID, func(r *models.UserRecord) error {
		r.Destination = ev.ChatID
		return nil
	})
	if err != nil {
		return e.storeFailed(ev, "start", err)
	}
	e.sessions.Clear(ev.ChatID)
	return reply(ev, WelcomeText())
}

// parseGoalArgs turns command arguments into goals. Comma-separated input keeps
// multi-word goals together; otherwise every word is a goal.
func parseGoalArgs(args []string) []string {
	joined := strings.TrimSpace(strings.Join(args, " "))
	if joined == "" {
		return nil
	}
	var parts []string
	if strings.Contains(joined, ",") {
		parts = strings.Split(joined, ",")
	} else {
		parts = strings.Fields(joined)
	}
	goals := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			goals = append(goals, p)
		}
	}
	return goals
}

func (e *Engine) setGoals(ctx context.Context, ev models.Event) []models.OutboundMessage {
	e.sessions.Clear(ev.ChatID)

	if goals := parseGoalArgs(ev.Args); len(goals) > 0 {
		rec, err := e.store.Update(ctx, ev.UserID, func(r *models.UserRecord) error {
			r.Goals = goals
			return nil
		})
		if err != nil {
			return e.storeFailed(ev, "setgoals", err)
		}
		return reply(ev, goalsSetText(rec.Goals))
	}

	rec, err := e.store.Get(ctx, ev.UserID)
	if err != nil {
		return e.storeFailed(ev, "setgoals", err)
	}
	if rec.HasGoals() {
		return reply(ev, goalMenuText(rec.Goals), menuButtons()...)
	}
	e.sessions.Set(ev.ChatID, Idle{}.BeginGoals())
	return reply(ev, addGoalsPromptText())
}

func (e *Engine) finishGoals(ctx context.Context, ev models.Event) []models.OutboundMessage {
	st, ok := e.sessions.Get(ev.ChatID).(AddingGoals)
	if !ok {
		return reply(ev, "Nothing to finish. Use /setgoals to add goals.")
	}
	_, goals := st.Finish()
	e.sessions.Clear(ev.ChatID)
	if len(goals) == 0 {
		return reply(ev, "⚠️ You didn't enter any goals, nothing was saved. Use /setgoals to try again.")
	}

	rec, err := e.store.Update(ctx, ev.UserID, func(r *models.UserRecord) error {
		r.Goals = append(r.Goals, goals...)
		return nil
	})
	if err != nil {
		return e.storeFailed(ev, "done", err)
	}
	slog.Info("Engine goals saved", "userID", ev.UserID, "added", len(goals), "total", len(rec.Goals))
	return reply(ev, goalsSetText(rec.Goals))
}

func (e *Engine) cancel(ev models.Event) []models.OutboundMessage {
	if e.sessions.Get(ev.ChatID).Name() == StateIdle {
		return reply(ev, "Nothing to cancel.")
	}
	e.sessions.Clear(ev.ChatID)
	return reply(ev, "❌ Cancelled. Nothing was saved.")
}

func (e *Engine) checkin(ctx context.Context, ev models.Event) []models.OutboundMessage {
	rec, err := e.store.Get(ctx, ev.UserID)
	if err != nil {
		return e.storeFailed(ev, "checkin", err)
	}
	if !rec.HasGoals() {
		return e.noGoals(ev)
	}
	body, buttons := checkinView(rec, models.DateKey(e.today()))
	return reply(ev, body, buttons...)
}

func (e *Engine) progress(ctx context.Context, ev models.Event) []models.OutboundMessage {
	rec, err := e.store.Get(ctx, ev.UserID)
	if err != nil {
		return e.storeFailed(ev, "progress", err)
	}
	if !rec.HasGoals() {
		return e.noGoals(ev)
	}
	today := e.today()
	return reply(ev, progressView(rec, progress.WeeklyProgress(rec, today), progress.Streak(rec, today)))
}

func (e *Engine) setReminder(ctx context.Context, ev models.Event) []models.OutboundMessage {
	e.sessions.Clear(ev.ChatID)
	rec, err := e.store.Get(ctx, ev.UserID)
	if err != nil {
		return e.storeFailed(ev, "setreminder", err)
	}
	if !rec.HasGoals() {
		return e.noGoals(ev)
	}
	return reply(ev, "⏰ Which goal should I remind you about?",
		reminderGoalButtons(rec.Goals, models.TokenRemind)...)
}

func (e *Engine) stopReminder(ctx context.Context, ev models.Event) []models.OutboundMessage {
	rec, err := e.store.Get(ctx, ev.UserID)
	if err != nil {
		return e.storeFailed(ev, "stopreminder", err)
	}
	goals := reminderGoals(rec)
	if len(goals) == 0 {
		return reply(ev, remindersText(rec))
	}
	return reply(ev, "🔕 Which reminder should I remove?",
		reminderGoalButtons(goals, models.TokenUnremind)...)
}

func (e *Engine) listReminders(ctx context.Context, ev models.Event) []models.OutboundMessage {
	rec, err := e.store.Get(ctx, ev.UserID)
	if err != nil {
		return e.storeFailed(ev, "reminders", err)
	}
	return reply(ev, remindersText(rec))
}

// listJobs shows the scheduler's jobs for the requesting user.
func (e *Engine) listJobs(ev models.Event) []models.OutboundMessage {
	if e.scheduler == nil {
		return reply(ev, "⚠️ The scheduler is not running.")
	}
	var mine []scheduler.JobInfo
	for _, j := range e.scheduler.ListActive() {
		if j.UserID == ev.UserID {
			mine = append(mine, j)
		}
	}
	return reply(ev, jobsText(mine))
}

func (e *Engine) handleText(ctx context.Context, ev models.Event) []models.OutboundMessage {
	switch st := e.sessions.Get(ev.ChatID).(type) {
	case AddingGoals:
		goal := strings.TrimSpace(ev.Body)
		if goal == "" {
			return reply(ev, addGoalsPromptText())
		}
		next := st.Append(goal)
		e.sessions.Set(ev.ChatID, next)
		return reply(ev, goalsSoFarText(next.Goals))
	case SettingReminderTime:
		return e.saveReminder(ctx, ev, st)
	default:
		return reply(ev, "Send /help to see what I can do.")
	}
}

func (e *Engine) saveReminder(ctx context.Context, ev models.Event, st SettingReminderTime) []models.OutboundMessage {
	if st.Goal == "" {
		e.sessions.Clear(ev.ChatID)
		slog.Error("Engine saveReminder failed", "error", models.ErrSessionStateMismatch, "chatID", ev.ChatID)
		return reply(ev, mismatchText())
	}

	t, err := models.ParseReminderTime(ev.Body)
	if err != nil {
		// Stay in the state and ask again.
		e.sessions.Set(ev.ChatID, st)
		return reply(ev, invalidTimeText())
	}

	_, err = e.store.Update(ctx, ev.UserID, func(r *models.UserRecord) error {
		if !slices.Contains(r.Goals, st.Goal) {
			return models.ErrSessionStateMismatch
		}
		r.Normalize()
		r.Reminders[st.Goal] = t.String()
		r.Destination = ev.ChatID
		return nil
	})
	e.sessions.Set(ev.ChatID, st.Finish())
	if errors.Is(err, models.ErrSessionStateMismatch) {
		slog.Error("Engine saveReminder failed", "error", err, "userID", ev.UserID, "goal", st.Goal)
		return reply(ev, mismatchText())
	}
	if err != nil {
		return e.storeFailed(ev, "setreminder", err)
	}

	if err := e.schedule(ev.UserID, st.Goal, t); err != nil {
		slog.Error("Engine schedule failed", "error", err, "userID", ev.UserID, "goal", st.Goal)
		return reply(ev, schedulerUnavailableText(st.Goal, t))
	}
	return reply(ev, reminderSetText(st.Goal, t))
}

func (e *Engine) schedule(userID, goal string, t models.ReminderTime) error {
	if e.scheduler == nil || e.dispatcher == nil {
		return models.ErrSchedulerUnavailable
	}
	if _, err := e.scheduler.Schedule(userID, goal, t, e.dispatcher.Callback(userID, goal)); err != nil {
		return fmt.Errorf("%w: %w", models.ErrSchedulerUnavailable, err)
	}
	return nil
}

func (e *Engine) handleButton(ctx context.Context, ev models.Event) []models.OutboundMessage {
	prefix, arg, ok := models.SplitButtonToken(ev.Token)
	if !ok {
		slog.Warn("Engine handleButton: unknown token", "token", ev.Token, "chatID", ev.ChatID)
		return reply(ev, "🤔 I don't recognise that option.")
	}
	switch prefix {
	case models.TokenMenu:
		return e.menuChoice(ctx, ev, arg)
	case models.TokenCheckin:
		return e.toggleCheckin(ctx, ev, arg)
	case models.TokenRemind:
		return e.chooseReminderGoal(ctx, ev, arg)
	case models.TokenUnremind:
		return e.removeReminder(ctx, ev, arg)
	}
	return nil
}

// goalByRef finds the goal a button token's GoalRef points at.
func goalByRef(goals []string, ref string) (string, bool) {
	for _, goal := range goals {
		if models.GoalRef(goal) == ref {
			return goal, true
		}
	}
	return "", false
}

func (e *Engine) menuChoice(ctx context.Context, ev models.Event, choice string) []models.OutboundMessage {
	e.sessions.Clear(ev.ChatID)
	switch choice {
	case menuAdd:
		e.sessions.Set(ev.ChatID, Idle{}.BeginGoals())
		return reply(ev, addGoalsPromptText())
	case menuClear:
		if _, err := e.store.Update(ctx, ev.UserID, func(r *models.UserRecord) error {
			r.ClearAll()
			return nil
		}); err != nil {
			return e.storeFailed(ev, "clear", err)
		}
		removed := 0
		if e.scheduler != nil {
			removed = e.scheduler.CancelUser(ev.UserID)
		}
		slog.Info("Engine cleared goals", "userID", ev.UserID, "jobsRemoved", removed)
		return reply(ev, "🧹 All goals, check-ins and reminders cleared. Use /setgoals to start fresh.")
	case menuKeep:
		return reply(ev, "👍 Keeping your goals.")
	default:
		return reply(ev, "🤔 I don't recognise that option.")
	}
}

func (e *Engine) toggleCheckin(ctx context.Context, ev models.Event, arg string) []models.OutboundMessage {
	date := models.DateKey(e.today())
	var goal string
	var done bool
	rec, err := e.store.Update(ctx, ev.UserID, func(r *models.UserRecord) error {
		if !r.HasGoals() {
			return models.ErrNoGoalsConfigured
		}
		var ok bool
		if goal, ok = goalByRef(r.Goals, arg); !ok {
			return errStaleButton
		}
		done = r.ToggleCheckin(date, goal)
		return nil
	})
	switch {
	case errors.Is(err, models.ErrNoGoalsConfigured):
		return e.noGoals(ev)
	case errors.Is(err, errStaleButton):
		if rec, err = e.store.Get(ctx, ev.UserID); err != nil {
			return e.storeFailed(ev, "checkin toggle", err)
		}
		body, buttons := checkinView(rec, date)
		return reply(ev, staleButtonText()+"\n\n"+body, buttons...)
	case err != nil:
		return e.storeFailed(ev, "checkin toggle", err)
	}

	metrics.CheckinToggles.Inc()
	slog.Debug("Engine checkin toggled", "userID", ev.UserID, "goal", goal, "date", date, "done", done)
	body, buttons := checkinView(rec, date)
	return reply(ev, body, buttons...)
}

func (e *Engine) chooseReminderGoal(ctx context.Context, ev models.Event, arg string) []models.OutboundMessage {
	rec, err := e.store.Get(ctx, ev.UserID)
	if err != nil {
		return e.storeFailed(ev, "remind", err)
	}
	if !rec.HasGoals() {
		return e.noGoals(ev)
	}
	goal, ok := goalByRef(rec.Goals, arg)
	if !ok {
		return reply(ev, staleButtonText(), reminderGoalButtons(rec.Goals, models.TokenRemind)...)
	}
	e.sessions.Set(ev.ChatID, Idle{}.BeginReminder(goal))
	return reply(ev, askTimeText(goal))
}

func (e *Engine) removeReminder(ctx context.Context, ev models.Event, arg string) []models.OutboundMessage {
	var goal string
	rec, err := e.store.Update(ctx, ev.UserID, func(r *models.UserRecord) error {
		var ok bool
		if goal, ok = goalByRef(reminderGoals(*r), arg); !ok {
			return errStaleButton
		}
		delete(r.Reminders, goal)
		return nil
	})
	if errors.Is(err, errStaleButton) {
		if rec, err = e.store.Get(ctx, ev.UserID); err != nil {
			return e.storeFailed(ev, "unremind", err)
		}
		return reply(ev, staleButtonText()+"\n\n"+remindersText(rec))
	}
	if err != nil {
		return e.storeFailed(ev, "unremind", err)
	}
	if e.scheduler != nil {
		e.scheduler.Cancel(scheduler.JobKey(ev.UserID, goal))
	}
	return reply(ev, fmt.Sprintf("🔕 Reminder for *%s* removed.", goal))
}
