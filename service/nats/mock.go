package nats

import (
	"context"
	"sync"

	"github.com/brojonat/soltax/service/payment"
)

// MockPublisher records payment events in memory for tests.
type MockPublisher struct {
	mu           sync.RWMutex
	events       []*PaymentEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishPaymentEvent records the event and returns any configured error.
func (m *MockPublisher) PublishPaymentEvent(ctx context.Context, r *payment.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.events = append(m.events, FromPaymentRequest(r))
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of every recorded event.
func (m *MockPublisher) GetPublishedEvents() []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*PaymentEvent, len(m.events))
	copy(events, m.events)
	return events
}

// GetEventsForRequest returns the events recorded for one request, in order.
func (m *MockPublisher) GetEventsForRequest(id string) []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*PaymentEvent
	for _, ev := range m.events {
		if ev.RequestID == id {
			events = append(events, ev)
		}
	}
	return events
}

// SetPublishError makes subsequent publishes fail with err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

var _ Publisher = (*MockPublisher)(nil)
