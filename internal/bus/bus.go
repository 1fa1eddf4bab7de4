package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace
// filtering. Services publish delivery and status events on it;
// consumers subscribe to a kind prefix ("status." receives every
// status event, "" receives everything).
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	nextID int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches
// evt.Kind. Delivery is non-blocking: a subscriber whose buffer is
// full misses the event. Events carry full snapshots rather than
// deltas, so a dropped event is recovered by the next one.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a subscriber for events whose kind starts with
// prefix. bufSize controls the channel buffer. The returned function
// removes the subscription; the channel is not closed, so a receive
// after unsubscribing blocks rather than panics.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
