package recovery

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/GoalPipe/internal/flow"
)

// ReminderRecoveryHandler returns the registry callback that re-schedules a reminder
// with a dispatcher-bound callback.
func ReminderRecoveryHandler(sched flow.ReminderScheduler, dispatcher *flow.ReminderDispatcher) func(ReminderRecoveryInfo) (string, error) {
	return func(info ReminderRecoveryInfo) (string, error) {
		slog.Debug("Recovering reminder",
			"userID", info.UserID,
			"goal", info.Goal,
			"time", info.Time.String())

		key, err := sched.Schedule(info.UserID, info.Goal, info.Time, dispatcher.Callback(info.UserID, info.Goal))
		if err != nil {
			return "", fmt.Errorf("failed to schedule recovered reminder: %w", err)
		}
		return key, nil
	}
}
