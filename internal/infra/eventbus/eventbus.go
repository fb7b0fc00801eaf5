// Package eventbus is an in-memory publish/subscribe bus. The development
// orchestrator uses it to deliver cancellations to live task streams.
//
// Each subscriber gets a buffered channel (buffer=100). Publish never
// blocks: events for a full subscriber are dropped. Nothing is persisted.
package eventbus

import "sync"

// Event is a single published message.
type Event struct {
	Topic   string
	Payload any
}

// EventBus is the interface for publishing and subscribing to topics.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(topic string) <-chan Event
	Unsubscribe(topic string, ch <-chan Event)
}

const defaultBufferSize = 100

// Bus is the in-memory implementation of EventBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

// New returns a new in-memory Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe registers a new subscriber for topic. The caller owns the
// consumption loop and should Unsubscribe when done.
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, defaultBufferSize)
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from topic and closes it. Unknown channels are
// ignored, so calling it twice is safe.
func (b *Bus) Unsubscribe(topic string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if (<-chan Event)(sub) != ch {
			continue
		}
		close(sub)
		subs = append(subs[:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.subscribers, topic)
		} else {
			b.subscribers[topic] = subs
		}
		return
	}
}

// Publish sends an Event to all current subscribers of topic.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload}
	// The read lock is held while sending so Unsubscribe cannot close a
	// channel mid-send; sends never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers of topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
