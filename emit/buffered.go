package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, keyed by correlation ID, for
// tests and debugging. Not meant for production volumes.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter returns an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: map[string][]Event{}}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.CorrelationID] = append(b.events[event.CorrelationID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		b.Emit(e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of the events recorded for correlationID, in
// emission order.
func (b *BufferedEmitter) History(correlationID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[correlationID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Clear removes events for correlationID, or every event when
// correlationID is empty.
func (b *BufferedEmitter) Clear(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if correlationID == "" {
		b.events = map[string][]Event{}
		return
	}
	delete(b.events, correlationID)
}
