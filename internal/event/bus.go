package event

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SubscriberBuffer is how many undelivered events a subscriber may hold
// before further events are dropped for it.
const SubscriberBuffer = 100

type subscriber struct {
	ch    chan Event
	types []Type
}

func (s subscriber) wants(t Type) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// InMemoryBus fans lifecycle events out to in-process consumers. Publish
// never blocks: a subscriber that falls behind loses events.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
	dropped     atomic.Uint64
}

func NewBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string]subscriber),
	}
}

func (b *InMemoryBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped for slow subscriber", "subscriber", id, "type", e.Type, "event_id", e.ID)
		}
	}
}

// Subscribe registers a consumer for the given event types, or for every
// type when none are given.
func (b *InMemoryBus) Subscribe(types ...Type) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, SubscriberBuffer)
	b.subscribers[id] = subscriber{ch: ch, types: slices.Clone(types)}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			close(ch)
		})
	}

	return ch, unsubscribe
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *InMemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}
