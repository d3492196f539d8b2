// Package progress computes completion statistics over a user's check-ins.
//
// All functions are pure: they read a UserRecord and a reference day and never
// touch storage.
package progress

import (
	"sort"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

const (
	// WindowDays is the length of the weekly progress window.
	WindowDays = 7
	// MaxStreakDays bounds how far back Streak walks.
	MaxStreakDays = 365
	// DefaultRecentCount is how many recent check-in dates the progress view lists.
	DefaultRecentCount = 10
)

// GoalProgress is one goal's completion over the window, oldest day first.
type GoalProgress struct {
	Name    string           `json:"name"`
	Done    [WindowDays]bool `json:"done"`
	Percent int              `json:"percent"`
}

// Weekly is the 7-day progress view ending today inclusive.
type Weekly struct {
	Days    [WindowDays]string `json:"days"` // date keys, oldest first
	Goals   []GoalProgress     `json:"goals"`
	Overall int                `json:"overall"`
}

// WeeklyProgress computes per-goal and overall completion for the 7 days ending today.
// Percentages are truncated integers; Overall is 0 when no goals are configured.
func WeeklyProgress(rec models.UserRecord, today time.Time) Weekly {
	var w Weekly
	for i := 0; i < WindowDays; i++ {
		w.Days[i] = models.DateKey(today.AddDate(0, 0, i-(WindowDays-1)))
	}

	total := 0
	w.Goals = make([]GoalProgress, 0, len(rec.Goals))
	for _, goal := range rec.Goals {
		gp := GoalProgress{Name: goal}
		done := 0
		for i, day := range w.Days {
			if rec.IsChecked(day, goal) {
				gp.Done[i] = true
				done++
			}
		}
		gp.Percent = done * 100 / WindowDays
		total += done
		w.Goals = append(w.Goals, gp)
	}
	if len(rec.Goals) > 0 {
		w.Overall = total * 100 / (len(rec.Goals) * WindowDays)
	}
	return w
}

// Streak counts consecutive days ending today on which at least one goal was completed.
// A day without completions, today included, ends the streak.
func Streak(rec models.UserRecord, today time.Time) int {
	streak := 0
	for i := 0; i < MaxStreakDays; i++ {
		day := models.DateKey(today.AddDate(0, 0, -i))
		if rec.CompletedOn(day) == 0 {
			break
		}
		streak++
	}
	return streak
}

// TotalDaysCheckedIn counts the days with at least one completed goal.
func TotalDaysCheckedIn(rec models.UserRecord) int {
	n := 0
	for day := range rec.Checkins {
		if rec.CompletedOn(day) > 0 {
			n++
		}
	}
	return n
}

// RecentCheckinDates returns up to n days with a completion, most recent first.
func RecentCheckinDates(rec models.UserRecord, n int) []string {
	days := make([]string, 0, len(rec.Checkins))
	for day := range rec.Checkins {
		if rec.CompletedOn(day) > 0 {
			days = append(days, day)
		}
	}
	// ISO dates sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	if n >= 0 && len(days) > n {
		days = days[:n]
	}
	return days
}
