// Package testutil provides shared fixtures for GoalPipe tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/scheduler"
	"github.com/BTreeMap/GoalPipe/internal/store"
)

// Now is the fixed instant tests run at: 07:00 UTC on 2026-10-17.
var Now = time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC)

// Today is the check-in date key of Now.
const Today = "2026-10-17"

// FixedClock returns a clock that always reports at.
func FixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// NewScheduler returns a started scheduler in UTC whose clock is fixed at Now.
// It is stopped when the test ends.
func NewScheduler(t testing.TB) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.NewScheduler(scheduler.WithLocation(time.UTC), scheduler.WithClock(FixedClock(Now)))
	t.Cleanup(s.Stop)
	return s
}

// Record builds a user record. reminders maps goal to "HH:MM" and may be nil.
func Record(destination string, goals []string, reminders map[string]string) models.UserRecord {
	rec := models.NewUserRecord()
	rec.Destination = destination
	rec.Goals = append(rec.Goals, goals...)
	for goal, at := range reminders {
		rec.Reminders[goal] = at
	}
	return rec
}

// Seed writes records into st.
func Seed(t testing.TB, st store.Store, records map[string]models.UserRecord) {
	t.Helper()
	for userID, rec := range records {
		if err := st.Put(context.Background(), userID, rec); err != nil {
			t.Fatalf("failed to seed record for %s: %v", userID, err)
		}
	}
}

// AssertJSONStatus decodes an API envelope and checks its status field.
func AssertJSONStatus(t testing.TB, rr *httptest.ResponseRecorder, expected models.APIStatus) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if status, _ := response["status"].(string); status != string(expected) {
		t.Errorf("expected status %q, got %q", expected, status)
	}
	return response
}

// MustUnmarshalJSON unmarshals JSON data into target and fails the test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
