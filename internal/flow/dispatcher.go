package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/scheduler"
	"github.com/BTreeMap/GoalPipe/internal/store"
)

// Sender is the outbound send capability used for reminder notifications.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// ReminderDispatcher turns a fired reminder job into a notification.
type ReminderDispatcher struct {
	store  store.Store
	sender Sender
}

// NewReminderDispatcher creates a dispatcher that reads st and sends through sender.
func NewReminderDispatcher(st store.Store, sender Sender) *ReminderDispatcher {
	return &ReminderDispatcher{store: st, sender: sender}
}

// Fire sends the reminder for userID's goal. The record is re-read so the latest
// destination is used; a reminder removed since scheduling is skipped.
// Send errors wrap models.ErrDeliveryFailure.
func (d *ReminderDispatcher) Fire(ctx context.Context, userID, goal string) error {
	rec, err := d.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("reminder for user %s: %w", userID, err)
	}
	if _, ok := rec.Reminders[goal]; !ok {
		slog.Info("ReminderDispatcher Fire skipped: reminder removed", "userID", userID, "goal", goal)
		return nil
	}
	if !rec.HasDestination() {
		slog.Warn("ReminderDispatcher Fire skipped: no destination", "userID", userID, "goal", goal)
		return nil
	}

	if err := d.sender.SendMessage(ctx, rec.Destination, ReminderText(goal)); err != nil {
		return fmt.Errorf("%w: %w", models.ErrDeliveryFailure, err)
	}
	slog.Debug("ReminderDispatcher Fire succeeded", "userID", userID, "goal", goal, "to", rec.Destination)
	return nil
}

// Callback binds Fire to one user's goal for the scheduler.
func (d *ReminderDispatcher) Callback(userID, goal string) scheduler.Callback {
	return func(ctx context.Context) error {
		return d.Fire(ctx, userID, goal)
	}
}
