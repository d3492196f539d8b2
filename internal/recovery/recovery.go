// Package recovery restores GoalPipe's in-memory state after a restart.
//
// The scheduler holds reminder jobs only in memory. At startup, before inbound events
// are accepted, registered Recoverable components rebuild that state from the store.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/store"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context, registry *RecoveryRegistry) error
}

// ReminderRecoveryInfo identifies one persisted reminder to re-register.
type ReminderRecoveryInfo struct {
	UserID      string
	Goal        string
	Time        models.ReminderTime
	Destination string
}

// RecoveryRegistry provides services that components can use during recovery
type RecoveryRegistry struct {
	store store.Store

	reminderRecoveryFunc func(ReminderRecoveryInfo) (string, error)
}

// NewRecoveryRegistry creates a new recovery registry
func NewRecoveryRegistry(st store.Store) *RecoveryRegistry {
	return &RecoveryRegistry{store: st}
}

// RegisterReminderRecovery registers the callback that re-creates a reminder job.
func (r *RecoveryRegistry) RegisterReminderRecovery(fn func(ReminderRecoveryInfo) (string, error)) {
	r.reminderRecoveryFunc = fn
}

// RecoverReminder requests recovery of a reminder job and returns its key.
func (r *RecoveryRegistry) RecoverReminder(info ReminderRecoveryInfo) (string, error) {
	if r.reminderRecoveryFunc == nil {
		return "", fmt.Errorf("no reminder recovery handler registered: %w", models.ErrSchedulerUnavailable)
	}
	return r.reminderRecoveryFunc(info)
}

// GetStore provides access to the store for recovery operations
func (r *RecoveryRegistry) GetStore() store.Store {
	return r.store
}

// RecoveryManager orchestrates recovery of all registered components
type RecoveryManager struct {
	registry     *RecoveryRegistry
	recoverables []Recoverable
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager(st store.Store) *RecoveryManager {
	return &RecoveryManager{
		registry:     NewRecoveryRegistry(st),
		recoverables: make([]Recoverable, 0),
	}
}

// RegisterRecoverable adds a component that can be recovered
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RegisterReminderRecovery registers the reminder recovery infrastructure
func (rm *RecoveryManager) RegisterReminderRecovery(fn func(ReminderRecoveryInfo) (string, error)) {
	rm.registry.RegisterReminderRecovery(fn)
}

// RecoverAll performs recovery of all registered components. A failing component is
// logged and does not stop the others.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	recoveredCount := 0
	errorCount := 0

	for _, recoverable := range rm.recoverables {
		if err := recoverable.RecoverState(ctx, rm.registry); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", recoverable))
			errorCount++
			continue
		}
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}

	return nil
}

// GetRegistry provides access to the recovery registry for infrastructure setup
func (rm *RecoveryManager) GetRegistry() *RecoveryRegistry {
	return rm.registry
}
