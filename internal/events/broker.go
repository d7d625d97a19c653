// Package events fans out span lifecycle events to SSE subscribers.
//
// The proxy and admin handlers publish an event for every store mutation
// (creation, completion, failure, deletion); the admin API streams them
// to connected clients. Delivery is best-effort and in-process only.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event types published by the proxy and admin handlers.
const (
	SpanCreated   = "span.created"
	SpanCompleted = "span.completed"
	SpanFailed    = "span.failed"
	SpanDeleted   = "span.deleted"
	TraceDeleted  = "trace.deleted"
	StoreCleared  = "store.cleared"
)

// Broker fans out span lifecycle events to SSE subscribers. Publishers
// never block: a subscriber whose buffer is full misses the event.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a broker with no subscribers.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Publish serializes payload and broadcasts it as an SSE event of the
// given type. Marshal failures are logged and the event is dropped.
func (b *Broker) Publish(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("broker: marshal event payload", "event", event, "error", err)
		return
	}
	b.broadcast(formatSSE(event, string(data)))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking publishers.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to all subscribers. Slow subscribers with a
// full buffer are skipped so one stalled client cannot block the rest.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full — drop this event for them.
		}
	}
}

// formatSSE formats an event as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
