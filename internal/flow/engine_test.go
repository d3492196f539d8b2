package flow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/scheduler"
	"github.com/BTreeMap/GoalPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChat = "chat-1"
	testUser = "u1"
)

var testNow = time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC)

type sentMessage struct {
	To   string
	Body string
}

// recordingSender captures sends and optionally fails them.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) SendMessage(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{To: to, Body: body})
	return nil
}

func (s *recordingSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type harness struct {
	engine *Engine
	store  store.Store
	sched  *scheduler.Scheduler
	sender *recordingSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewInMemoryStore()
	sched := scheduler.NewScheduler(
		scheduler.WithLocation(time.UTC),
		scheduler.WithClock(func() time.Time { return testNow }),
	)
	t.Cleanup(sched.Stop)
	sender := &recordingSender{}
	engine := NewEngine(st, sched,
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testNow }),
		WithDispatcher(NewReminderDispatcher(st, sender)),
	)
	return &harness{engine: engine, store: st, sched: sched, sender: sender}
}

func cmd(name string, args ...string) models.Event {
	return models.Event{Kind: models.EventCommand, Name: name, Args: args, ChatID: testChat, UserID: testUser}
}

func text(body string) models.Event {
	return models.Event{Kind: models.EventText, Body: body, ChatID: testChat, UserID: testUser}
}

func button(token string) models.Event {
	return models.Event{Kind: models.EventButton, Token: token, ChatID: testChat, UserID: testUser}
}

// typed is a button token the user typed as plain text.
func typed(body string) models.Event {
	return models.Event{Kind: models.EventButton, Token: body, Body: body, Typed: true, ChatID: testChat, UserID: testUser}
}

func goalButton(prefix, goal string) models.Event {
	return button(models.ButtonToken(prefix, models.GoalRef(goal)))
}

// send handles ev and returns the single reply.
func (h *harness) send(t *testing.T, ev models.Event) models.OutboundMessage {
	t.Helper()
	out := h.engine.Handle(context.Background(), ev)
	require.Len(t, out, 1)
	assert.Equal(t, ev.ChatID, out[0].To)
	return out[0]
}

func (h *harness) record(t *testing.T) models.UserRecord {
	t.Helper()
	rec, err := h.store.Get(context.Background(), testUser)
	require.NoError(t, err)
	return rec
}

func (h *harness) state() State {
	return h.engine.Sessions().Get(testChat)
}

func (h *harness) setGoals(t *testing.T, goals ...string) {
	t.Helper()
	h.send(t, cmd(CmdSetGoals, goals...))
	require.Equal(t, goals, h.record(t).Goals)
}

func (h *harness) setReminder(t *testing.T, goal, hhmm string) models.OutboundMessage {
	t.Helper()
	h.send(t, cmd(CmdSetReminder))
	h.send(t, goalButton(models.TokenRemind, goal))
	require.Equal(t, StateSettingReminderTime, h.state().Name())
	return h.send(t, text(hhmm))
}

func TestGoalEntryFlow(t *testing.T) {
	h := newHarness(t)

	msg := h.send(t, cmd(CmdSetGoals))
	assert.Contains(t, msg.Body, "/done")
	assert.Equal(t, StateAddingGoals, h.state().Name())

	msg = h.send(t, text("  Read  "))
	assert.Contains(t, msg.Body, "1. Read")
	h.send(t, text("   "))
	msg = h.send(t, text("Run"))
	assert.Contains(t, msg.Body, "2. Run")
	assert.Empty(t, h.record(t).Goals, "nothing persisted before done")

	msg = h.send(t, cmd(CmdDone))
	assert.Contains(t, msg.Body, "Goals set")
	assert.Equal(t, []string{"Read", "Run"}, h.record(t).Goals)
	assert.Equal(t, StateIdle, h.state().Name())
}

func TestGoalEntry_EmptyDoneIsRejected(t *testing.T) {
	h := newHarness(t)
	h.send(t, cmd(CmdSetGoals))
	msg := h.send(t, cmd(CmdDone))
	assert.Contains(t, msg.Body, "nothing was saved")
	assert.Empty(t, h.record(t).Goals)
	assert.Equal(t, StateIdle, h.state().Name())

	msg = h.send(t, cmd(CmdDone))
	assert.Contains(t, msg.Body, "Nothing to finish")
}

func TestCancelDiscardsScratch(t *testing.T) {
	h := newHarness(t)
	h.send(t, cmd(CmdSetGoals))
	h.send(t, text("Read"))

	msg := h.send(t, cmd(CmdCancel))
	assert.Contains(t, msg.Body, "Cancelled")
	assert.Empty(t, h.record(t).Goals)
	assert.Equal(t, StateIdle, h.state().Name())

	msg = h.send(t, cmd(CmdCancel))
	assert.Contains(t, msg.Body, "Nothing to cancel")
}

func TestSetGoalsWithArguments(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "AIML", "DSA", "Gym")

	h.send(t, cmd(CmdSetGoals, "Read", "20", "pages,", "Gym"))
	assert.Equal(t, []string{"Read 20 pages", "Gym"}, h.record(t).Goals)
}

func TestGoalMenu(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read")

	msg := h.send(t, cmd(CmdSetGoals))
	require.Len(t, msg.Buttons, 3)
	assert.Equal(t, "menu:add", msg.Buttons[0].Token)
	assert.Equal(t, StateIdle, h.state().Name())

	h.send(t, button("menu:keep"))
	assert.Equal(t, []string{"Read"}, h.record(t).Goals)

	h.send(t, button("menu:add"))
	assert.Equal(t, StateAddingGoals, h.state().Name())
	h.send(t, text("Gym"))
	h.send(t, cmd(CmdDone))
	assert.Equal(t, []string{"Read", "Gym"}, h.record(t).Goals)
}

func TestMenuClear_WipesRecordAndJobs(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read", "Run")
	h.send(t, goalButton(models.TokenCheckin, "Read"))
	h.setReminder(t, "Read", "08:00")
	h.setReminder(t, "Run", "07:05")

	other := func(context.Context) error { return nil }
	otherKey, err := h.sched.Schedule("u2", "Read", models.ReminderTime{Hour: 9}, other)
	require.NoError(t, err)
	require.Equal(t, 3, h.sched.Len())

	msg := h.send(t, button("menu:clear"))
	assert.Contains(t, msg.Body, "cleared")

	rec := h.record(t)
	assert.Empty(t, rec.Goals)
	assert.Empty(t, rec.Checkins)
	assert.Empty(t, rec.Reminders)
	assert.Equal(t, testChat, rec.Destination)
	assert.Equal(t, 1, h.sched.Len())
	assert.True(t, h.sched.Has(otherKey))
}

func TestEntryCommandReplacesSession(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read")
	h.send(t, button("menu:add"))
	h.send(t, text("Gym"))
	require.Equal(t, StateAddingGoals, h.state().Name())

	h.send(t, cmd(CmdSetReminder))
	assert.Equal(t, StateIdle, h.state().Name())
	assert.Equal(t, []string{"Read"}, h.record(t).Goals)
}

func TestCheckinToggle(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read", "Run")
	today := models.DateKey(testNow)

	msg := h.send(t, cmd(CmdCheckin))
	require.Len(t, msg.Buttons, 2)
	assert.Equal(t, models.ButtonToken(models.TokenCheckin, models.GoalRef("Run")), msg.Buttons[1].Token)
	assert.Contains(t, msg.Body, today)

	msg = h.send(t, goalButton(models.TokenCheckin, "Read"))
	assert.True(t, h.record(t).IsChecked(today, "Read"))
	assert.Equal(t, "✅ Read", msg.Buttons[0].Label)

	h.send(t, goalButton(models.TokenCheckin, "Read"))
	assert.False(t, h.record(t).IsChecked(today, "Read"))

	msg = h.send(t, goalButton(models.TokenCheckin, "Swim"))
	assert.Contains(t, msg.Body, "out of date")
	assert.Len(t, msg.Buttons, 2)
}

func TestCheckinToggle_ConcurrentPressesAreSerialized(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.engine.Handle(context.Background(), goalButton(models.TokenCheckin, "Read"))
		}()
	}
	wg.Wait()
	assert.False(t, h.record(t).IsChecked(models.DateKey(testNow), "Read"))
}

func TestNoGoalsConfigured(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{CmdCheckin, CmdProgress, CmdSetReminder} {
		msg := h.send(t, cmd(name))
		assert.Contains(t, msg.Body, "/setgoals", name)
		assert.Equal(t, StateIdle, h.state().Name())
	}
	msg := h.send(t, goalButton(models.TokenCheckin, "Read"))
	assert.Contains(t, msg.Body, "haven't set any goals")
}

func TestReminderFlow_Reschedule(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read", "Run")

	msg := h.setReminder(t, "Run", "07:05")
	assert.Contains(t, msg.Body, "07:05")
	rec := h.record(t)
	assert.Equal(t, "07:05", rec.Reminders["Run"])
	assert.Equal(t, testChat, rec.Destination)
	assert.Equal(t, StateIdle, h.state().Name())

	h.setReminder(t, "Run", "07:30")
	jobs := h.sched.ListActive()
	require.Len(t, jobs, 1)
	assert.Equal(t, scheduler.JobKey(testUser, "Run"), jobs[0].Key)
	assert.Equal(t, time.Date(2026, 10, 17, 7, 30, 0, 0, time.UTC), jobs[0].Next)
	assert.Equal(t, "07:30", h.record(t).Reminders["Run"])
}

func TestReminderFlow_InvalidTimeReprompts(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read")

	for _, bad := range []string{"25:00", "abc", "7.30", "12:60", "1:2:3"} {
		msg := h.setReminderAttempt(t, bad)
		assert.Contains(t, msg.Body, "Invalid format", bad)
		assert.Equal(t, SettingReminderTime{Goal: "Read"}, h.state())
	}
	msg := h.send(t, text(" 21:30 "))
	assert.Contains(t, msg.Body, "21:30")
	assert.Equal(t, StateIdle, h.state().Name())
	assert.Equal(t, 1, h.sched.Len())
}

// setReminderAttempt enters the reminder state once and sends body.
func (h *harness) setReminderAttempt(t *testing.T, body string) models.OutboundMessage {
	t.Helper()
	if h.state().Name() != StateSettingReminderTime {
		h.send(t, cmd(CmdSetReminder))
		h.send(t, goalButton(models.TokenRemind, "Read"))
	}
	return h.send(t, text(body))
}

func TestReminderFlow_SessionStateMismatch(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read")

	h.engine.Sessions().Set(testChat, SettingReminderTime{})
	msg := h.send(t, text("08:00"))
	assert.Contains(t, msg.Body, "lost track")
	assert.Equal(t, StateIdle, h.state().Name())

	// goal deleted while the session was open
	h.engine.Sessions().Set(testChat, SettingReminderTime{Goal: "Gone"})
	msg = h.send(t, text("08:00"))
	assert.Contains(t, msg.Body, "lost track")
	assert.Empty(t, h.record(t).Reminders)
	assert.Equal(t, 0, h.sched.Len())
}

func TestReminderFlow_SchedulerUnavailable(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := NewEngine(st, nil, WithLocation(time.UTC), WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	engine.Handle(ctx, cmd(CmdSetGoals, "Read"))
	engine.Handle(ctx, goalButton(models.TokenRemind, "Read"))
	out := engine.Handle(ctx, text("06:45"))
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Body, "can't be scheduled")

	rec, err := st.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, "06:45", rec.Reminders["Read"])
	assert.Equal(t, StateIdle, engine.Sessions().Get(testChat).Name())

	out = engine.Handle(ctx, cmd(CmdJobs))
	assert.Contains(t, out[0].Body, "not running")
}

func TestStopReminder(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read", "Run")
	h.setReminder(t, "Read", "08:00")
	h.setReminder(t, "Run", "09:00")

	msg := h.send(t, cmd(CmdStopReminder))
	require.Len(t, msg.Buttons, 2)
	assert.Equal(t, "Read", msg.Buttons[0].Label)

	msg = h.send(t, goalButton(models.TokenUnremind, "Read"))
	assert.Contains(t, msg.Body, "Read")
	rec := h.record(t)
	assert.NotContains(t, rec.Reminders, "Read")
	assert.Contains(t, rec.Reminders, "Run")
	assert.False(t, h.sched.Has(scheduler.JobKey(testUser, "Read")))
	assert.True(t, h.sched.Has(scheduler.JobKey(testUser, "Run")))

	msg = h.send(t, cmd(CmdReminders))
	assert.Contains(t, msg.Body, "Run at 09:00")
	msg = h.send(t, cmd(CmdJobs))
	assert.Contains(t, msg.Body, scheduler.JobKey(testUser, "Run"))
}

func TestProgressView_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read", "Run")
	h.send(t, goalButton(models.TokenCheckin, "Read"))

	msg := h.send(t, cmd(CmdProgress))
	assert.Contains(t, msg.Body, "Read 14%")
	assert.Contains(t, msg.Body, "Run 0%")
	assert.Contains(t, msg.Body, "Overall: 7%")
	assert.Contains(t, msg.Body, "Streak: 1 day")
	assert.Contains(t, msg.Body, "✅ "+models.DateKey(testNow))
}

func TestStartBindsDestination(t *testing.T) {
	h := newHarness(t)
	msg := h.send(t, cmd(CmdStart))
	assert.Contains(t, msg.Body, "/setgoals")
	assert.Equal(t, testChat, h.record(t).Destination)

	msg = h.send(t, cmd("bogus"))
	assert.True(t, strings.HasPrefix(msg.Body, "🤔 Unknown command /bogus"))
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setGoals(t, "Read")
	h.setReminder(t, "0", "08:00")
	key := scheduler.JobKey(testUser, "Read")

	require.True(t, h.sched.Trigger(key))
	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testChat, sent[0].To)
	assert.Contains(t, sent[0].Body, "Read")

	d := NewReminderDispatcher(h.store, h.sender)

	// a failing send is reported but the job survives
	h.sender.mu.Lock()
	h.sender.err = assert.AnError
	h.sender.mu.Unlock()
	err := d.Fire(ctx, testUser, "Read")
	assert.ErrorIs(t, err, models.ErrDeliveryFailure)
	assert.ErrorIs(t, err, assert.AnError)
	h.sched.Trigger(key)
	assert.True(t, h.sched.Has(key))

	// a removed reminder is skipped
	_, err = h.store.Update(ctx, testUser, func(r *models.UserRecord) error {
		delete(r.Reminders, "Read")
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, d.Fire(ctx, testUser, "Read"))

	// no destination is skipped
	require.NoError(t, h.store.Put(ctx, "u9", models.UserRecord{Goals: []string{"Gym"}, Reminders: map[string]string{"Gym": "07:00"}}))
	assert.NoError(t, d.Fire(ctx, "u9", "Gym"))
	assert.Len(t, h.sender.Sent(), 1)
}

func TestSessionStore_Expiry(t *testing.T) {
	s := NewSessionStore(50 * time.Millisecond)
	s.Set("c", AddingGoals{Goals: []string{"Read"}})
	assert.Equal(t, StateAddingGoals, s.Get("c").Name())
	assert.Equal(t, 1, s.Active())

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, StateIdle, s.Get("c").Name())

	s.Set("c", SettingReminderTime{Goal: "Read"})
	s.Set("c", Idle{})
	assert.Equal(t, StateIdle, s.Get("c").Name())
}

func TestStateTransitions(t *testing.T) {
	adding := Idle{}.BeginGoals()
	next := adding.Append("Read")
	assert.Empty(t, adding.Goals, "Append must not mutate the receiver")
	_, goals := next.Append("Run").Finish()
	assert.Equal(t, []string{"Read", "Run"}, goals)

	assert.Equal(t, SettingReminderTime{Goal: "Run"}, Idle{}.BeginReminder("Run"))
	assert.Equal(t, StateIdle, SettingReminderTime{Goal: "Run"}.Finish().Name())
}

func TestGoalEntry_TypedTokensAreGoals(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read", "Run")
	h.setReminder(t, "Read", "08:00")

	h.send(t, cmd(CmdSetGoals))
	h.send(t, typed("menu:add"))
	require.Equal(t, StateAddingGoals, h.state().Name())

	msg := h.send(t, typed("checkin:daily walk"))
	assert.Contains(t, msg.Body, "1. checkin:daily walk")
	msg = h.send(t, typed("menu:clear"))
	assert.Contains(t, msg.Body, "2. menu:clear")
	assert.Equal(t, StateAddingGoals, h.state().Name())

	h.send(t, cmd(CmdDone))
	rec := h.record(t)
	assert.Equal(t, []string{"Read", "Run", "checkin:daily walk", "menu:clear"}, rec.Goals)
	assert.Equal(t, "08:00", rec.Reminders["Read"])
	assert.Equal(t, 1, h.sched.Len())
}

func TestReminderTime_TypedTokenReprompts(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read")
	h.send(t, cmd(CmdSetReminder))
	h.send(t, goalButton(models.TokenRemind, "Read"))

	msg := h.send(t, typed("menu:clear"))
	assert.Contains(t, msg.Body, "Invalid format")
	assert.Equal(t, SettingReminderTime{Goal: "Read"}, h.state())
	assert.Equal(t, []string{"Read"}, h.record(t).Goals)
}

func TestTypedTokenWhileIdleIsAPress(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read")

	h.send(t, typed(models.ButtonToken(models.TokenCheckin, models.GoalRef("Read"))))
	assert.True(t, h.record(t).IsChecked(models.DateKey(testNow), "Read"))
}

func TestButtonsFollowGoalsNotPositions(t *testing.T) {
	h := newHarness(t)
	h.setGoals(t, "Read", "Run", "Apple")
	h.setReminder(t, "Read", "08:00")
	h.setReminder(t, "Run", "09:00")

	msg := h.send(t, cmd(CmdStopReminder))
	require.Len(t, msg.Buttons, 2)
	shownForRead := msg.Buttons[0].Token

	// A reminder sorting ahead of the shown ones does not shift the old buttons.
	h.setReminder(t, "Apple", "07:00")
	msg = h.send(t, button(shownForRead))
	assert.Contains(t, msg.Body, "Read")
	rec := h.record(t)
	assert.NotContains(t, rec.Reminders, "Read")
	assert.Contains(t, rec.Reminders, "Apple")
	assert.True(t, h.sched.Has(scheduler.JobKey(testUser, "Apple")))

	msg = h.send(t, button(shownForRead))
	assert.Contains(t, msg.Body, "out of date")
	assert.Len(t, h.record(t).Reminders, 2)
}
