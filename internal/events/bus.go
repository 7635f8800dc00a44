// Package events implements the typed topic-channel event bus shared by the
// Worker Pool and the Orchestrator , grounded on the Redis
// pub/sub channel shape of orchestration/hitl_command_store.go's
// PublishCommand/SubscribeCommand, adapted to an in-process bus since
// nothing here needs cross-process delivery.
package events

import (
	"sync"

	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// Event is one emitted occurrence. Topic identifies the kind (e.g.
// "subtask:complete", "worker:registered"); Payload carries the
// topic-specific data.
type Event struct {
	Topic   string
	Payload any
}

// bufferSize bounds each subscriber's channel: emit must never block the
// emitter's execution context on a slow consumer.
const bufferSize = 64

// Bus is a bounded-fan-out, in-process publish/subscribe bus. Handlers run
// asynchronously off a dedicated goroutine per subscription, never on the
// emitter's own goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	logger obs.Logger
}

type subscription struct {
	ch     chan Event
	done   chan struct{}
	closed bool
}

// New returns an empty Bus. A nil logger is replaced with a no-op logger.
func New(logger obs.Logger) *Bus {
	if logger == nil {
		logger = obs.NoOpLogger{}
	}
	if cal, ok := logger.(obs.ComponentAwareLogger); ok {
		logger = cal.WithComponent("events")
	}
	return &Bus{subs: make(map[string][]*subscription), logger: logger}
}

// Subscribe registers handler to run for every event published on topic.
// The returned func unsubscribes and releases the handler's goroutine.
func (b *Bus) Subscribe(topic string, handler func(Event)) func() {
	sub := &subscription{ch: make(chan Event, bufferSize), done: make(chan struct{})}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				b.safeInvoke(handler, ev)
			case <-sub.done:
				return
			}
		}
	}()

	return func() { b.unsubscribe(topic, sub) }
}

func (b *Bus) unsubscribe(topic string, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == target {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if !target.closed {
		target.closed = true
		close(target.done)
	}
}

// Publish delivers ev to every subscriber of ev.Topic. A subscriber whose
// buffer is full has the event dropped for it, logged as a warning,
// rather than blocking the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := append([]*subscription{}, b.subs[ev.Topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("events: subscriber buffer full, dropping event", map[string]interface{}{
				"topic": ev.Topic,
			})
		}
	}
}

func (b *Bus) safeInvoke(handler func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("events: handler panicked", map[string]interface{}{
				"topic": ev.Topic,
				"panic": r,
			})
		}
	}()
	handler(ev)
}
