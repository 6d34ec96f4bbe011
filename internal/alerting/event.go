package alerting

import (
	"sync"
	"time"

	"github.com/deskops/itsm-engine/internal/condition"
)

// Event is an ITSM lifecycle event carrying the record that routing rules
// are evaluated against.
type Event struct {
	Name      string           `json:"event"`
	Record    condition.Record `json:"record"`
	Timestamp time.Time        `json:"timestamp"`
}

// EntityID returns the record's id field, if it has one.
func (e *Event) EntityID() string {
	if v, ok := e.Record["id"].(string); ok {
		return v
	}
	return ""
}

// EventHandler processes events.
type EventHandler func(event *Event)

// Package-level singleton for the event bus.
var (
	globalBus *EventBus
	busMu     sync.RWMutex
)

// SetGlobalBus sets the package-level event bus singleton.
func SetGlobalBus(bus *EventBus) {
	busMu.Lock()
	defer busMu.Unlock()
	globalBus = bus
}

// GetGlobalBus returns the package-level event bus, or nil if not initialized.
func GetGlobalBus() *EventBus {
	busMu.RLock()
	defer busMu.RUnlock()
	return globalBus
}

// TryPublish publishes an event to the global bus if initialized.
// Returns false if the bus is not yet available.
func TryPublish(event *Event) bool {
	bus := GetGlobalBus()
	if bus == nil {
		return false
	}
	return bus.Publish(event)
}

// eventBusBufferSize is the capacity of the async event channel.
const eventBusBufferSize = 1000

// EventBus is an async pub/sub for events. Publish never blocks: events go
// to a buffered channel drained by one worker goroutine, so producers are
// not held up by routing or dispatch.
type EventBus struct {
	handlers []EventHandler
	mu       sync.RWMutex
	eventCh  chan *Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time

	// OnDrop, when set, is called for each event dropped on a full buffer.
	OnDrop func(event *Event)
}

// NewEventBus creates an event bus and starts its worker.
func NewEventBus() *EventBus {
	return newEventBus(eventBusBufferSize)
}

func newEventBus(buffer int) *EventBus {
	b := &EventBus{
		eventCh: make(chan *Event, buffer),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *EventBus) Subscribe(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event and reports whether it was accepted. Events
// are dropped when the buffer is full or the bus is stopped.
func (b *EventBus) Publish(event *Event) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	select {
	case b.eventCh <- event:
		return true
	default:
		if b.OnDrop != nil {
			b.OnDrop(event)
		}
		return false
	}
}

// Stop shuts down the worker after draining queued events and waits for
// it to exit. Safe to call multiple times.
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *EventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(event *Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall invokes a handler with panic recovery so a panicking handler
// cannot kill the worker.
func (b *EventBus) safeCall(handler EventHandler, event *Event) {
	defer func() {
		recover() //nolint:errcheck // handlers log their own failures
	}()
	handler(event)
}
