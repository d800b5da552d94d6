// Package notification provides an ordered, sequenced publish/subscribe manager.
package notification

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Envelope wraps a published value with its sequence number.
type Envelope[T any] struct {
	SequenceNo uint64
	Payload    T
}

// Stream represents a subscriber.
type Stream[T any] interface {
	Send(Envelope[T]) error
}

// StreamFunc adapts a function to a Stream.
type StreamFunc[T any] func(Envelope[T]) error

// Send calls f.
func (f StreamFunc[T]) Send(e Envelope[T]) error { return f(e) }

// subscription represents a subscriber's subscription.
type subscription[T any] struct {
	id     string
	stream Stream[T]
}

// Manager delivers published values to every subscriber synchronously, in
// publish order and in subscription order.
type Manager[T any] struct {
	mu            sync.RWMutex
	subscriptions []*subscription[T]
	closed        bool

	// publishMu serializes deliveries so sequence order is delivery order.
	publishMu  sync.Mutex
	sequenceNo uint64
}

// NewManager creates a new notification manager.
func NewManager[T any]() *Manager[T] {
	return &Manager[T]{}
}

// Subscribe adds a new subscription and returns the subscription ID.
// Subscribing to a closed manager returns an empty ID and delivers nothing.
func (m *Manager[T]) Subscribe(stream Stream[T]) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ""
	}
	id := uuid.New().String()
	m.subscriptions = append(m.subscriptions, &subscription[T]{
		id:     id,
		stream: stream,
	})
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager[T]) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscriptions {
		if sub.id == subscriptionID {
			m.subscriptions = append(m.subscriptions[:i:i], m.subscriptions[i+1:]...)
			return
		}
	}
}

// Publish stamps v with the next sequence number and sends it to all
// subscribers. Send errors are logged and do not stop delivery.
func (m *Manager[T]) Publish(v T) uint64 {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return 0
	}
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription[T], len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.mu.RUnlock()

	m.sequenceNo++
	env := Envelope[T]{SequenceNo: m.sequenceNo, Payload: v}
	for _, sub := range subs {
		if err := sub.stream.Send(env); err != nil {
			zlog.Debug().Msgf("notification: send to %s failed: %v", sub.id, err)
		}
	}
	return env.SequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager[T]) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions. Later publishes are dropped.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = nil
	m.closed = true
}
