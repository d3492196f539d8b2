// Package messaging connects the conversation engine to a chat transport.
//
// A Service delivers outbound text and emits inbound events. Router feeds those events
// to the engine and sends its replies.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Events returns a channel of inbound chat events.
	Events() <-chan models.Event
}

// canonicalPhone strips everything but digits and requires at least 6 of them.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", &RecipientError{Recipient: recipient, Reason: "no digits found"}
	}
	if len(canonical) < 6 {
		return "", &RecipientError{Recipient: recipient, Reason: "too short (minimum 6 digits required)"}
	}
	return canonical, nil
}

// RecipientError reports a recipient that cannot be canonicalized.
type RecipientError struct {
	Recipient string
	Reason    string
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("invalid recipient %q: %s", e.Recipient, e.Reason)
}
