package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// subscriberBuffer is the channel depth per subscriber. A subscriber that
// falls this far behind starts dropping events rather than blocking
// publishers.
const subscriberBuffer = 64

// Subscription is a handle to an event stream. Close it with Unsubscribe
// when the consumer goes away.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	types  map[EventType]bool // nil means all types
	closed bool
}

func (s *Subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// Bus fans published events out to subscribers. Publishing never blocks:
// a slow subscriber loses events instead of stalling the publisher.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	log     zerolog.Logger
	dropped uint64
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a consumer for the given event types. With no types
// the subscription receives every event.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	sub := &Subscription{ch: make(chan Event, subscriberBuffer)}
	sub.C = sub.ch

	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.closed = true
	close(sub.ch)
}

// Publish delivers an event to all matching subscribers
func (b *Bus) Publish(module string, eventType EventType, data interface{}) {
	event := Event{
		Type:      eventType,
		Module:    module,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.log.Debug().
		Str("module", module).
		Str("event_type", string(eventType)).
		Msg("Event published")

	for sub := range b.subs {
		if !sub.wants(eventType) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped++
			b.log.Warn().
				Str("event_type", string(eventType)).
				Uint64("total_dropped", b.dropped).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of active subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// DroppedCount returns how many events were dropped due to slow subscribers
func (b *Bus) DroppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
