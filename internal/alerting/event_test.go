package alerting

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/ruleset"
)

func TestEventBus_SubscribeAndPublish(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	bus := NewEventBus()
	defer bus.Stop()

	var received atomic.Pointer[Event]
	bus.Subscribe(func(event *Event) {
		received.Store(event)
	})

	require.True(t, bus.Publish(&Event{
		Name:   ruleset.EventIncidentCreated,
		Record: condition.Record{"id": "INC-1", "priority": "P1"},
	}))

	require.Eventually(t, func() bool { return received.Load() != nil }, time.Second, 5*time.Millisecond)
	got := received.Load()
	assert.Equal(t, ruleset.EventIncidentCreated, got.Name)
	assert.Equal(t, "INC-1", got.EntityID())
	assert.False(t, got.Timestamp.IsZero(), "publish stamps events")
}

func TestEventBus_MultipleHandlers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	bus := NewEventBus()
	defer bus.Stop()

	var count atomic.Int32
	for range 3 {
		bus.Subscribe(func(_ *Event) { count.Add(1) })
	}
	bus.Publish(&Event{Name: ruleset.EventTicketCreated})

	assert.Eventually(t, func() bool { return count.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestEventBus_PanickingHandlerDoesNotKillWorker(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	bus := NewEventBus()
	defer bus.Stop()

	var count atomic.Int32
	bus.Subscribe(func(_ *Event) { panic("boom") })
	bus.Subscribe(func(_ *Event) { count.Add(1) })

	bus.Publish(&Event{Name: "a"})
	bus.Publish(&Event{Name: "b"})

	assert.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestEventBus_StopDrainsAndRejects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	bus := NewEventBus()

	var count atomic.Int32
	bus.Subscribe(func(_ *Event) { count.Add(1) })
	for range 10 {
		bus.Publish(&Event{Name: "queued"})
	}
	bus.Stop()
	bus.Stop()

	assert.Equal(t, int32(10), count.Load(), "queued events are drained before exit")
	assert.False(t, bus.Publish(&Event{Name: "late"}))
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	bus := newEventBus(1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(func(_ *Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	var dropped atomic.Int32
	bus.OnDrop = func(_ *Event) { dropped.Add(1) }

	require.True(t, bus.Publish(&Event{Name: "first"}))
	<-started
	require.True(t, bus.Publish(&Event{Name: "buffered"}))
	assert.False(t, bus.Publish(&Event{Name: "dropped"}))
	assert.Equal(t, int32(1), dropped.Load())

	close(release)
	bus.Stop()
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	bus := NewEventBus()
	defer bus.Stop()

	var count atomic.Int32
	bus.Subscribe(func(_ *Event) { count.Add(1) })

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			bus.Publish(&Event{Name: ruleset.EventTicketCreated})
		})
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return count.Load() == 100 }, time.Second, 5*time.Millisecond)
}

func TestTryPublish(t *testing.T) {
	SetGlobalBus(nil)
	assert.False(t, TryPublish(&Event{Name: "x"}))

	bus := NewEventBus()
	defer bus.Stop()
	SetGlobalBus(bus)
	defer SetGlobalBus(nil)
	assert.True(t, TryPublish(&Event{Name: "x"}))
}
