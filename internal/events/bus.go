// Package events provides the lifecycle event bus and the JSONL audit
// trail a controller writes under its artifacts directory.
package events

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	// EventStateTransition is published on every controller state change.
	EventStateTransition EventType = "state_transition"
	// EventMonitorFault is published when a monitor fails fatally.
	EventMonitorFault EventType = "monitor_fault"
	// EventRunFinished is published once, at the terminal transition.
	EventRunFinished EventType = "run_finished"
)

// Event is one lifecycle occurrence.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber receives events asynchronously.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe fan-out. Delivery is
// asynchronous through buffered channels; a full subscriber drops events
// rather than stalling the controller's worker.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe
// function. The subscriber runs in its own goroutine; panics are contained.
// Unsubscribing waits until every already-buffered event has been
// delivered, so a caller tearing down can rely on nothing arriving late.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	drained := make(chan struct{})
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		defer close(drained)
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		subs := b.subscribers[eventType]
		closed := false
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				closed = true
				break
			}
		}
		b.mu.Unlock()
		if closed {
			<-drained
		}
	}
}

// Publish delivers an event to all subscribers of its type without ever
// blocking the publisher.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts down all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
