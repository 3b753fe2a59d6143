// Package events implements the process-wide pub/sub bus and its durable
// journal. Dispatch is synchronous: publishers fan out to every handler in
// registration order, and handlers that need to block own their own queues.
package events

import (
	"log"
	"sync"
)

// Handler receives events for a topic. Handlers must not block the bus.
type Handler func(*Event)

// Journal is the optional durable store behind the bus
type Journal interface {
	Save(event *Event) error
}

type subscription struct {
	id      int64
	topic   Topic
	handler Handler
}

// Bus is the in-process event bus
type Bus struct {
	mu      sync.RWMutex
	nextID  int64
	subs    map[Topic][]*subscription
	journal Journal
}

// NewBus creates a bus. journal may be nil.
func NewBus(journal Journal) *Bus {
	return &Bus{
		subs:    make(map[Topic][]*subscription),
		journal: journal,
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe func
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, topic: topic, handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)

	id := sub.id
	return func() { b.unsubscribe(topic, id) }
}

// SubscribeAll registers a handler on every core topic
func (b *Bus) SubscribeAll(handler Handler) func() {
	var cancels []func()
	for _, topic := range AllTopics() {
		cancels = append(cancels, b.Subscribe(topic, handler))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// SubscribeChan registers a buffered channel subscriber. Events are dropped
// rather than blocking publishers when the channel is full.
func (b *Bus) SubscribeChan(topic Topic, buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan *Event, buffer)
	cancel := b.Subscribe(topic, func(e *Event) {
		select {
		case ch <- e:
		default:
			// Subscriber fell behind; drop instead of stalling the bus
		}
	})
	return ch, cancel
}

func (b *Bus) unsubscribe(topic Topic, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish fans an event out to all handlers registered for its topic.
// Handlers run synchronously in registration order over a snapshot of the
// subscriber list, so handlers may subscribe or unsubscribe reentrantly.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	event := NewEvent(topic, payload)

	if b.journal != nil {
		if err := b.journal.Save(event); err != nil {
			log.Printf("[BUS] Journal save failed for %s: %v", topic, err)
		}
	}

	b.mu.RLock()
	snapshot := make([]*subscription, len(b.subs[topic]))
	copy(snapshot, b.subs[topic])
	b.mu.RUnlock()

	for _, sub := range snapshot {
		b.dispatch(sub, event)
	}
}

func (b *Bus) dispatch(sub *subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[BUS] Handler for %s panicked: %v", event.Topic, r)
		}
	}()
	sub.handler(event)
}

// SubscriberCount returns the number of handlers on a topic
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
