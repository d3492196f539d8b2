package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

// SentMessage is one message captured by MockService.
type SentMessage struct {
	To   string
	Body string
}

// MockService is an in-memory Service for tests and dry runs. Inject pushes an inbound
// event; sent messages are recorded instead of delivered.
type MockService struct {
	mu       sync.Mutex
	sent     []SentMessage
	Err      error
	receipts chan models.Receipt
	events   chan models.Event
	stopped  bool
}

// NewMockService creates a MockService.
func NewMockService() *MockService {
	return &MockService{
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		events:   make(chan models.Event, DefaultChannelBufferSize),
	}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrServiceStopped
	}
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	select {
	case m.receipts <- models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}:
	default:
	}
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.receipts)
	close(m.events)
	return nil
}

func (m *MockService) Receipts() <-chan models.Receipt { return m.receipts }

func (m *MockService) Events() <-chan models.Event { return m.events }

// Inject queues an inbound event. It reports false after Stop.
func (m *MockService) Inject(ev models.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	m.events <- ev
	return true
}

// Sent returns a copy of the recorded messages.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
