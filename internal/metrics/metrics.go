// Package metrics holds the Prometheus collectors for GoalPipe.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemindersFired counts reminder callbacks that completed without error.
	RemindersFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalpipe_reminders_fired_total",
		Help: "Total number of reminder notifications delivered",
	})

	// ReminderFailures counts reminder callbacks that returned an error or panicked.
	ReminderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goalpipe_reminder_failures_total",
		Help: "Total number of reminder callbacks that failed, by reason",
	}, []string{"reason"}) // reason: "error" or "panic"

	// EventsHandled counts inbound events processed by the conversation engine.
	EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goalpipe_events_handled_total",
		Help: "Total number of inbound events handled, by kind",
	}, []string{"kind"})

	// CheckinToggles counts check-in button presses that changed a record.
	CheckinToggles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalpipe_checkin_toggles_total",
		Help: "Total number of check-in toggles",
	})

	// JobsReconciled reports how many reminder jobs the last startup reconciliation installed.
	JobsReconciled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goalpipe_jobs_reconciled",
		Help: "Number of reminder jobs re-registered at startup",
	})
)

var (
	activeJobsOnce sync.Once
	activeJobsMu   sync.RWMutex
	activeJobsFn   func() int
)

// SetActiveJobsSource exposes the scheduler's live job count as a gauge.
// The gauge is registered once; later calls replace the source.
func SetActiveJobsSource(fn func() int) {
	activeJobsMu.Lock()
	activeJobsFn = fn
	activeJobsMu.Unlock()

	activeJobsOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "goalpipe_reminder_jobs_active",
			Help: "Number of reminder jobs currently scheduled",
		}, func() float64 {
			activeJobsMu.RLock()
			defer activeJobsMu.RUnlock()
			if activeJobsFn == nil {
				return 0
			}
			return float64(activeJobsFn())
		})
	})
}
