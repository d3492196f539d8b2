package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BTreeMap/GoalPipe/internal/metrics"
	"github.com/BTreeMap/GoalPipe/internal/models"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Users         int `json:"users"`
	Scheduled     int `json:"scheduled"`
	NoDestination int `json:"no_destination"`
	InvalidTimes  int `json:"invalid_times"`
	Failed        int `json:"failed"`
}

// ReminderReconciler re-registers a job for every persisted reminder whose user has
// a bound destination.
type ReminderReconciler struct {
	last ReconcileResult
}

// NewReminderReconciler creates a ReminderReconciler.
func NewReminderReconciler() *ReminderReconciler {
	return &ReminderReconciler{}
}

// LastResult returns the counts from the most recent RecoverState.
func (rr *ReminderReconciler) LastResult() ReconcileResult {
	return rr.last
}

// RecoverState implements Recoverable.
func (rr *ReminderReconciler) RecoverState(ctx context.Context, registry *RecoveryRegistry) error {
	records, err := registry.GetStore().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list user records: %w", err)
	}

	var res ReconcileResult
	userIDs := make([]string, 0, len(records))
	for id := range records {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	for _, userID := range userIDs {
		rec := records[userID]
		res.Users++
		if len(rec.Reminders) == 0 {
			continue
		}
		if !rec.HasDestination() {
			res.NoDestination += len(rec.Reminders)
			slog.Info("Reconciler skipping user without destination", "userID", userID, "reminders", len(rec.Reminders))
			continue
		}
		for goal, raw := range rec.Reminders {
			t, err := models.ParseReminderTime(raw)
			if err != nil {
				res.InvalidTimes++
				slog.Warn("Reconciler skipping invalid reminder time", "userID", userID, "goal", goal, "time", raw)
				continue
			}
			key, err := registry.RecoverReminder(ReminderRecoveryInfo{
				UserID:      userID,
				Goal:        goal,
				Time:        t,
				Destination: rec.Destination,
			})
			if err != nil {
				res.Failed++
				slog.Error("Reconciler failed to schedule reminder", "userID", userID, "goal", goal, "error", err)
				continue
			}
			res.Scheduled++
			slog.Debug("Reconciler scheduled reminder", "key", key, "time", t.String())
		}
	}

	rr.last = res
	metrics.JobsReconciled.Set(float64(res.Scheduled))
	slog.Info("Reconciler completed",
		"users", res.Users,
		"scheduled", res.Scheduled,
		"noDestination", res.NoDestination,
		"invalidTimes", res.InvalidTimes,
		"failed", res.Failed)

	if res.Failed > 0 {
		return fmt.Errorf("%d reminders could not be scheduled: %w", res.Failed, models.ErrSchedulerUnavailable)
	}
	return nil
}
