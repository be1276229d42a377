// Package bus implements the internal event fan-out used by the Gateway,
// logger, and CLI to observe runtime activity without coupling to each
// other. It generalizes the single-subscriber onEvent callback pattern into
// a proper multi-subscriber publisher with a bounded, drop-oldest queue per
// subscriber so one slow consumer cannot stall another.
package bus

import (
	"sync"
)

// Event is a named payload broadcast to every subscriber.
type Event struct {
	Name    string
	Payload any
}

// Handler receives events delivered to a subscription. Handlers run on a
// dedicated goroutine per subscriber and must not block indefinitely;
// slow handlers only delay their own subscription, never others.
type Handler func(Event)

// Publisher is the fan-out contract. It generalizes the teacher's
// single-subscriber bus.EventPublisher interface to true multi-subscriber
// delivery.
type Publisher interface {
	Subscribe(id string, handler Handler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

const defaultQueueDepth = 64

type subscriber struct {
	queue  chan Event
	done   chan struct{}
}

// Bus is the default bounded, drop-oldest Publisher implementation.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	queueDepth  int
}

// New constructs a Bus. queueDepth <= 0 uses defaultQueueDepth.
func New(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		queueDepth:  queueDepth,
	}
}

// Subscribe registers handler under id, replacing any existing subscription
// with the same id. The handler runs on its own goroutine until Unsubscribe
// is called.
func (b *Bus) Subscribe(id string, handler Handler) {
	b.mu.Lock()
	if existing, ok := b.subscribers[id]; ok {
		close(existing.done)
	}
	sub := &subscriber{
		queue: make(chan Event, b.queueDepth),
		done:  make(chan struct{}),
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.queue:
				handler(ev)
			case <-sub.done:
				return
			}
		}
	}()
}

// Unsubscribe removes id's subscription, if any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.done)
		delete(b.subscribers, id)
	}
}

// Broadcast delivers event to every current subscriber. If a subscriber's
// queue is full, the oldest queued event is dropped to make room rather than
// blocking the broadcaster.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.queue <- event:
		default:
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- event:
			default:
			}
		}
	}
}

// Publish is a convenience wrapper around Broadcast so Bus satisfies the
// narrower Publish(name, payload)-shaped EventSink interfaces used by the
// tools and orchestrator packages without either importing bus directly.
func (b *Bus) Publish(name string, payload any) {
	b.Broadcast(Event{Name: name, Payload: payload})
}

// Shutdown stops delivery to all subscribers.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.done)
		delete(b.subscribers, id)
	}
}
