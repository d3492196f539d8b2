package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func newTestScheduler(t *testing.T, now time.Time) *Scheduler {
	t.Helper()
	s := NewScheduler(WithLocation(time.UTC), WithClock(func() time.Time { return now }))
	t.Cleanup(s.Stop)
	return s
}

func TestJobKey(t *testing.T) {
	k1 := JobKey("42", "Read 20 pages")
	assert.True(t, strings.HasPrefix(k1, "reminder_42_Read_20_pages_"), k1)
	assert.Equal(t, k1, JobKey("42", "Read 20 pages"), "derivation must be stable")
	assert.NotEqual(t, JobKey("42", "Run!"), JobKey("42", "Run?"))
	assert.NotEqual(t, JobKey("1", "Gym"), JobKey("2", "Gym"))
	assert.True(t, strings.HasPrefix(JobKey("+1 555", "--x--"), "reminder_1_555_x_"))
}

func TestSchedule_ReplacesExistingKey(t *testing.T) {
	s := newTestScheduler(t, time.Date(2026, 10, 17, 7, 5, 0, 0, time.UTC))

	key1, err := s.Schedule("42", "Read", models.ReminderTime{Hour: 8, Minute: 0}, noop)
	require.NoError(t, err)
	key2, err := s.Schedule("42", "Read", models.ReminderTime{Hour: 7, Minute: 30}, noop)
	require.NoError(t, err)

	assert.Equal(t, key1, key2)
	assert.Equal(t, 1, s.Len())
	jobs := s.ListActive()
	require.Len(t, jobs, 1)
	assert.Equal(t, "07:30", jobs[0].Time.String())
	assert.Equal(t, time.Date(2026, 10, 17, 7, 30, 0, 0, time.UTC), jobs[0].Next)
}

func TestSchedule_NextFireRollsToTomorrow(t *testing.T) {
	s := newTestScheduler(t, time.Date(2026, 10, 17, 7, 45, 0, 0, time.UTC))
	_, err := s.Schedule("42", "Read", models.ReminderTime{Hour: 7, Minute: 30}, noop)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 7, 30, 0, 0, time.UTC), s.ListActive()[0].Next)
}

func TestSchedule_UsesFixedLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	now := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC) // 06:00 local
	s := NewScheduler(WithLocation(loc), WithClock(func() time.Time { return now }))
	defer s.Stop()

	_, err := s.Schedule("42", "Read", models.ReminderTime{Hour: 7, Minute: 0}, noop)
	require.NoError(t, err)
	next := s.ListActive()[0].Next
	assert.True(t, next.Equal(time.Date(2026, 10, 17, 4, 0, 0, 0, time.UTC)), next)
}

func TestSchedule_RejectsInvalidInput(t *testing.T) {
	s := newTestScheduler(t, time.Now())
	_, err := s.Schedule("42", "Read", models.ReminderTime{Hour: 24}, noop)
	assert.ErrorIs(t, err, models.ErrInvalidTimeFormat)
	_, err = s.Schedule("42", "Read", models.ReminderTime{Hour: 7}, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestRunGuarded_FailuresKeepJob(t *testing.T) {
	s := newTestScheduler(t, time.Now())
	var calls atomic.Int32

	errKey, err := s.Schedule("1", "Read", models.ReminderTime{Hour: 9}, func(context.Context) error {
		calls.Add(1)
		return errors.New("transport down")
	})
	require.NoError(t, err)
	panicKey, err := s.Schedule("2", "Run", models.ReminderTime{Hour: 9}, func(context.Context) error {
		calls.Add(1)
		panic("boom")
	})
	require.NoError(t, err)

	assert.True(t, s.Trigger(errKey))
	assert.NotPanics(t, func() { s.Trigger(panicKey) })
	assert.True(t, s.Trigger(errKey))

	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, s.Has(errKey))
	assert.True(t, s.Has(panicKey))
	assert.False(t, s.Trigger("reminder_missing"))
}

func TestTrigger_PassesContext(t *testing.T) {
	s := newTestScheduler(t, time.Now())
	var hadDeadline bool
	key, err := s.Schedule("1", "Read", models.ReminderTime{Hour: 9}, func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	require.NoError(t, err)
	s.Trigger(key)
	assert.True(t, hadDeadline)
}

func TestCancel(t *testing.T) {
	s := newTestScheduler(t, time.Now())
	t9 := models.ReminderTime{Hour: 9}
	a, _ := s.Schedule("1", "Read", t9, noop)
	b, _ := s.Schedule("1", "Run", t9, noop)
	c, _ := s.Schedule("12", "Read", t9, noop)

	assert.True(t, s.Cancel(a))
	assert.False(t, s.Cancel(a))
	assert.False(t, s.Has(a))

	_, _ = s.Schedule("1", "Gym", t9, noop)
	assert.Equal(t, 2, s.CancelUser("1"))
	assert.False(t, s.Has(b))
	assert.True(t, s.Has(c), "prefix-similar user must be untouched")

	assert.Equal(t, 1, s.CancelMatching(func(key string) bool { return key == c }))
	assert.Equal(t, 0, s.Len())
}

func TestListActive_SortedByKey(t *testing.T) {
	s := newTestScheduler(t, time.Now())
	for _, goal := range []string{"c", "a", "b"} {
		_, err := s.Schedule("1", goal, models.ReminderTime{Hour: 9}, noop)
		require.NoError(t, err)
	}
	jobs := s.ListActive()
	require.Len(t, jobs, 3)
	for i := 1; i < len(jobs); i++ {
		assert.Less(t, jobs[i-1].Key, jobs[i].Key)
	}
	assert.Equal(t, "1", jobs[0].UserID)
}
