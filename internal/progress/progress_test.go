package progress

import (
	"testing"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func day(offset int) string {
	return models.DateKey(today.AddDate(0, 0, offset))
}

func TestWeeklyProgress_ReadOnlyToday(t *testing.T) {
	rec := models.NewUserRecord()
	rec.Goals = []string{"Read", "Run"}
	rec.ToggleCheckin(day(0), "Read")

	w := WeeklyProgress(rec, today)

	assert.Equal(t, day(-6), w.Days[0])
	assert.Equal(t, day(0), w.Days[6])
	require.Len(t, w.Goals, 2)
	assert.Equal(t, "Read", w.Goals[0].Name)
	assert.Equal(t, 14, w.Goals[0].Percent)
	assert.True(t, w.Goals[0].Done[6])
	assert.False(t, w.Goals[0].Done[5])
	assert.Equal(t, 0, w.Goals[1].Percent)
	assert.Equal(t, 7, w.Overall)
	assert.Equal(t, 1, Streak(rec, today))
}

func TestWeeklyProgress_WindowBounds(t *testing.T) {
	rec := models.NewUserRecord()
	rec.Goals = []string{"Gym"}
	rec.ToggleCheckin(day(-7), "Gym") // just outside the window
	rec.ToggleCheckin(day(-6), "Gym")
	rec.ToggleCheckin(day(1), "Gym") // future days never count

	w := WeeklyProgress(rec, today)
	assert.Equal(t, [WindowDays]bool{true}, w.Goals[0].Done)
	assert.Equal(t, 14, w.Goals[0].Percent)
}

func TestWeeklyProgress_FullWeek(t *testing.T) {
	rec := models.NewUserRecord()
	rec.Goals = []string{"A", "B"}
	for i := -6; i <= 0; i++ {
		rec.ToggleCheckin(day(i), "A")
	}
	w := WeeklyProgress(rec, today)
	assert.Equal(t, 100, w.Goals[0].Percent)
	assert.Equal(t, 0, w.Goals[1].Percent)
	assert.Equal(t, 50, w.Overall)
}

func TestWeeklyProgress_NoGoals(t *testing.T) {
	rec := models.NewUserRecord()
	rec.ToggleCheckin(day(0), "Removed")
	w := WeeklyProgress(rec, today)
	assert.Empty(t, w.Goals)
	assert.Equal(t, 0, w.Overall)
}

func TestStreak(t *testing.T) {
	t.Run("no checkins", func(t *testing.T) {
		assert.Equal(t, 0, Streak(models.NewUserRecord(), today))
	})

	t.Run("consecutive days ending today", func(t *testing.T) {
		rec := models.NewUserRecord()
		rec.Goals = []string{"Read", "Run"}
		for i := 0; i < 5; i++ {
			// one goal per day is enough
			rec.ToggleCheckin(day(-i), rec.Goals[i%2])
		}
		assert.Equal(t, 5, Streak(rec, today))
	})

	t.Run("today empty yields zero", func(t *testing.T) {
		rec := models.NewUserRecord()
		rec.ToggleCheckin(day(-1), "Read")
		rec.ToggleCheckin(day(-2), "Read")
		assert.Equal(t, 0, Streak(rec, today))
	})

	t.Run("gap breaks streak", func(t *testing.T) {
		rec := models.NewUserRecord()
		rec.ToggleCheckin(day(0), "Read")
		rec.ToggleCheckin(day(-2), "Read")
		assert.Equal(t, 1, Streak(rec, today))
	})

	t.Run("untoggled day does not count", func(t *testing.T) {
		rec := models.NewUserRecord()
		rec.ToggleCheckin(day(0), "Read")
		rec.ToggleCheckin(day(0), "Read")
		assert.Equal(t, 0, Streak(rec, today))
	})

	t.Run("capped at a year", func(t *testing.T) {
		rec := models.NewUserRecord()
		for i := 0; i < 400; i++ {
			rec.ToggleCheckin(day(-i), "Read")
		}
		assert.Equal(t, MaxStreakDays, Streak(rec, today))
	})
}

func TestRecentCheckinDates(t *testing.T) {
	rec := models.NewUserRecord()
	for i := 0; i < 12; i++ {
		rec.ToggleCheckin(day(-i*2), "Read")
	}
	rec.ToggleCheckin(day(-1), "Run")
	rec.ToggleCheckin(day(-1), "Run") // toggled back off

	recent := RecentCheckinDates(rec, DefaultRecentCount)
	require.Len(t, recent, DefaultRecentCount)
	assert.Equal(t, day(0), recent[0])
	assert.Equal(t, day(-2), recent[1])
	assert.Equal(t, 12, TotalDaysCheckedIn(rec))
}
