package models

import "time"

// DateLayout is the calendar-day key format used in check-ins.
const DateLayout = "2006-01-02"

// DateKey returns the check-in key for the calendar day of t in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// UserRecord is everything persisted for one user.
//
// Goals may repeat; check-ins and reminders are keyed by goal name only, so duplicate
// names share one check-in slot and one reminder. Clearing goals through the menu wipes
// check-ins and reminders too; other edits leave history in place.
type UserRecord struct {
	Goals       []string                   `json:"goals"`
	Checkins    map[string]map[string]bool `json:"checkins"`  // date -> goal -> completed
	Reminders   map[string]string          `json:"reminders"` // goal -> "HH:MM"
	Destination string                     `json:"destination,omitempty"`
}

// NewUserRecord returns an empty record with no destination bound.
func NewUserRecord() UserRecord {
	return UserRecord{
		Goals:     []string{},
		Checkins:  map[string]map[string]bool{},
		Reminders: map[string]string{},
	}
}

// Normalize replaces nil collections with empty ones, e.g. after decoding a partial document.
func (r *UserRecord) Normalize() {
	if r.Goals == nil {
		r.Goals = []string{}
	}
	if r.Checkins == nil {
		r.Checkins = map[string]map[string]bool{}
	}
	if r.Reminders == nil {
		r.Reminders = map[string]string{}
	}
}

// HasGoals reports whether at least one goal is configured.
func (r UserRecord) HasGoals() bool {
	return len(r.Goals) > 0
}

// HasDestination reports whether reminders for this user can be delivered.
func (r UserRecord) HasDestination() bool {
	return r.Destination != ""
}

// IsChecked reports whether goal was completed on date.
func (r UserRecord) IsChecked(date, goal string) bool {
	return r.Checkins[date][goal]
}

// CompletedOn counts goals marked complete on date, including goals no longer listed.
func (r UserRecord) CompletedOn(date string) int {
	n := 0
	for _, done := range r.Checkins[date] {
		if done {
			n++
		}
	}
	return n
}

// ToggleCheckin flips goal's completion for date and returns the new value.
// The date entry is created on first toggle.
func (r *UserRecord) ToggleCheckin(date, goal string) bool {
	r.Normalize()
	day, ok := r.Checkins[date]
	if !ok {
		day = map[string]bool{}
		r.Checkins[date] = day
	}
	day[goal] = !day[goal]
	return day[goal]
}

// ClearAll removes goals, check-ins, and reminders together. The destination is kept.
func (r *UserRecord) ClearAll() {
	r.Goals = []string{}
	r.Checkins = map[string]map[string]bool{}
	r.Reminders = map[string]string{}
}

// Clone returns a deep copy so callers never share maps with a store.
func (r UserRecord) Clone() UserRecord {
	c := UserRecord{
		Goals:       append([]string{}, r.Goals...),
		Checkins:    make(map[string]map[string]bool, len(r.Checkins)),
		Reminders:   make(map[string]string, len(r.Reminders)),
		Destination: r.Destination,
	}
	for date, day := range r.Checkins {
		d := make(map[string]bool, len(day))
		for goal, done := range day {
			d[goal] = done
		}
		c.Checkins[date] = d
	}
	for goal, t := range r.Reminders {
		c.Reminders[goal] = t
	}
	return c
}
