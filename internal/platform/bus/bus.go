// Package bus provides an in-process synchronous pub/sub message bus.
// Dispatch is fire-and-forget with no buffering: late subscribers miss
// events published before they subscribed.
package bus

import "sync"

// Handler receives a published payload. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(payload any)

type subscription struct {
	id      int
	handler Handler
}

// Bus routes payloads from Publish to every handler subscribed to the
// event name. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
}

func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers handler for event and returns an unsubscribe func.
func (b *Bus) Subscribe(event string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subs[event]
		for i, s := range subs {
			if s.id == id {
				b.subs[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[event]) == 0 {
			delete(b.subs, event)
		}
	}
}

// Publish delivers payload to current subscribers of event, in
// subscription order.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[event]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(payload)
	}
}
