package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ReminderTime is a time of day in the deployment's fixed timezone.
type ReminderTime struct {
	Hour   int
	Minute int
}

// ParseReminderTime parses "HH:MM" in 24-hour format.
// Every malformed input (separator count, non-numeric part, out of range) yields
// ErrInvalidTimeFormat; the sub-case is never distinguished.
func ParseReminderTime(s string) (ReminderTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return ReminderTime{}, ErrInvalidTimeFormat
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return ReminderTime{}, ErrInvalidTimeFormat
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return ReminderTime{}, ErrInvalidTimeFormat
	}
	t := ReminderTime{Hour: hour, Minute: minute}
	if !t.Valid() {
		return ReminderTime{}, ErrInvalidTimeFormat
	}
	return t, nil
}

// Valid reports whether the hour and minute are within a day.
func (t ReminderTime) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// String renders the time zero-padded, e.g. "07:05".
func (t ReminderTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalJSON stores the time as its "HH:MM" string.
func (t ReminderTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the "HH:MM" string form.
func (t *ReminderTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("reminder time must be a string: %w", err)
	}
	parsed, err := ParseReminderTime(s)
	if err != nil {
		return fmt.Errorf("reminder time %q: %w", s, err)
	}
	*t = parsed
	return nil
}
