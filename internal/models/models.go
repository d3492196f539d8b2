// Package models holds the types shared by every GoalPipe package: the persisted
// user record, reminder times, inbound events, outbound messages, delivery receipts,
// the HTTP envelope, and the error taxonomy of the goal and reminder core.
package models

import (
	"errors"
)

// Error variables for the failure taxonomy of the goal and reminder core.
// Callers match them with errors.Is; components wrap them with context.
var (
	// ErrInvalidTimeFormat is returned for any reminder time that is not a valid HH:MM.
	ErrInvalidTimeFormat = errors.New("invalid time format, expected HH:MM in 24-hour format")
	// ErrNoGoalsConfigured is returned when a flow needs goals and the user has none.
	ErrNoGoalsConfigured = errors.New("no goals configured")
	// ErrSessionStateMismatch is returned when a session lacks the scratch data its state requires.
	ErrSessionStateMismatch = errors.New("session state mismatch")
	// ErrStoreUnavailable marks an unreadable or corrupt persisted document.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrSchedulerUnavailable is returned when no scheduler can accept a reminder.
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
	// ErrDeliveryFailure wraps errors raised by the outbound send capability.
	ErrDeliveryFailure = errors.New("notification delivery failed")
	// ErrEmptyRecipient is returned when a message has no destination.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
)

// MessageStatus is how far an outbound message got.
type MessageStatus string

// Delivery states reported by the transports.
const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt is one delivery update for a message sent to To.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}
