package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a webhook without an inline reply; replies are sent through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client    twiliowhatsapp.Sender // real Twilio client or MockClient
	validator *twiliowhatsapp.WebhookValidator
	publicURL string
	receipts  chan models.Receipt
	events    chan models.Event
	mu        sync.RWMutex
	stopped   bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not match
// publicURL, the externally visible URL of the webhook endpoint.
func WithSignatureValidation(v *twiliowhatsapp.WebhookValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:   client,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		events:   make(chan models.Event, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalPhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound traffic arrives through TwilioWebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.events)
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		return err
	}

	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel for message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Events returns the channel of inbound events from the webhook
func (s *TwilioService) Events() <-chan models.Event {
	return s.events
}

// emitReceipt and emitEvent hold the read lock while sending so Stop cannot close
// the channel underneath them.
func (s *TwilioService) emitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

func (s *TwilioService) emitEvent(ev models.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "chatID", ev.ChatID)
		return false
	}
	select {
	case s.events <- ev:
		slog.Debug("TwilioService emitted inbound event", "chatID", ev.ChatID, "kind", ev.Kind)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping event", "chatID", ev.ChatID)
		return false
	}
}

// receiptStatus maps Twilio's MessageStatus callback values.
func receiptStatus(status string) (models.MessageStatus, bool) {
	switch status {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "read":
		return models.MessageStatusRead, true
	case "failed", "undelivered":
		return models.MessageStatusFailed, true
	}
	return "", false
}

// TwilioWebhookHandler handles inbound Twilio webhook requests: incoming messages
// become events, status callbacks become receipts.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.publicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	payload := r.FormValue("ButtonPayload")

	if from == "" && r.FormValue("MessageStatus") != "" {
		s.handleStatusCallback(w, r)
		return
	}

	chatID, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil || (body == "" && payload == "") {
		slog.Warn("Twilio webhook missing fields", "from", from, "has_body", body != "", "has_payload", payload != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	now := time.Now()
	var ev models.Event
	if payload != "" {
		ev = ButtonEvent(payload, chatID, chatID, now)
	} else {
		ev = ClassifyText(body, chatID, chatID, now)
	}
	slog.Info("Inbound WhatsApp message from Twilio", "chatID", chatID, "kind", ev.Kind)

	if !s.emitEvent(ev) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

func (s *TwilioService) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	status, ok := receiptStatus(r.FormValue("MessageStatus"))
	if ok {
		to, err := canonicalPhone(r.FormValue("To"))
		if err == nil {
			s.emitReceipt(models.Receipt{To: to, Status: status, Time: time.Now().Unix()})
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
