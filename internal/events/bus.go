// Package events is a small in-process pub/sub bus. The pipeline
// publishes progress and failure events; the notifier subscribes.
package events

import (
	"log"
	"sync"
	"time"
)

// Handler receives published events.
type Handler func(Event)

// subscription is one handler plus the event types it asked for.
type subscription struct {
	types   map[EventType]struct{} // nil means every event
	handler Handler
}

// Bus fans run lifecycle events out to whoever registered interest.
// Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler. Passing no types means the handler
// wants everything.
func (b *Bus) Subscribe(handler Handler, types ...EventType) {
	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
}

// Publish delivers the event to every matching subscriber before
// returning, so by the time a run finishes all of its notifications
// have been handed off. Fills in the timestamp when zero and contains
// subscriber panics: a broken notifier must not kill a backup run.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.types != nil {
			if _, ok := sub.types[e.Type]; !ok {
				continue
			}
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("events: subscriber panic on %s: %v", e.Type, r)
				}
			}()
			sub.handler(e)
		}()
	}
}
