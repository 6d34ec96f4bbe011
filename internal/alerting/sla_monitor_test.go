package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/sla"
)

type fakeSource struct {
	mu       sync.Mutex
	entities []sla.Entity
	err      error
}

func (s *fakeSource) OpenEntities(context.Context) ([]sla.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sla.Entity(nil), s.entities...), s.err
}

func (s *fakeSource) set(entities ...sla.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = entities
}

type eventSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *eventSink) publish(e *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

func (s *eventSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Name
	}
	return out
}

func newMonitor(source EntitySource, clock *testClock, sink *eventSink) *SLAMonitor {
	return NewSLAMonitor(source, sla.DefaultTargets, SLAMonitorConfig{
		WarnPercentLeft: 25,
		Publish:         sink.publish,
		Now:             clock.Now,
	}, nil)
}

func TestSLAMonitor_WarningThenBreach(t *testing.T) {
	t.Parallel()
	reported := businessHours
	source := &fakeSource{}
	source.set(sla.Entity{ID: "INC-1", Kind: "Incident", Priority: "P1", Status: "Open", ReportedAt: reported})
	clock := &testClock{now: reported.Add(10 * time.Minute)}
	sink := &eventSink{}
	m := newMonitor(source, clock, sink)
	ctx := context.Background()

	n, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "on track")

	// P1 response target is one hour; 50 minutes in leaves ~16.7%.
	clock.Set(reported.Add(50 * time.Minute))
	n, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "state already published")

	clock.Set(reported.Add(61 * time.Minute))
	n, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{ruleset.EventSLAWarning, ruleset.EventSLABreached}, sink.names())

	warn := sink.events[0]
	assert.Equal(t, "INC-1", warn.EntityID())
	assert.Equal(t, "response", warn.Record["sla_type"])
	assert.InDelta(t, 16.67, warn.Record["sla_percent_left"], 0.01)
	assert.Equal(t, string(sla.OnTrack), warn.Record["sla_time_left"])
	due, ok := warn.Record["due_at"].(time.Time)
	require.True(t, ok)
	assert.True(t, reported.Add(time.Hour).Equal(due))
}

func TestSLAMonitor_StraightToBreach(t *testing.T) {
	t.Parallel()
	source := &fakeSource{}
	source.set(sla.Entity{ID: "REQ-1", Priority: "Low", Status: "Open", ReportedAt: businessHours})
	clock := &testClock{now: businessHours.Add(100 * time.Hour)}
	sink := &eventSink{}

	n, err := newMonitor(source, clock, sink).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "response and resolution both breached")
	assert.Equal(t, []string{ruleset.EventSLABreached, ruleset.EventSLABreached}, sink.names())
}

func TestSLAMonitor_CompletedAndForgotten(t *testing.T) {
	t.Parallel()
	responded := businessHours.Add(5 * time.Minute)
	source := &fakeSource{}
	source.set(sla.Entity{ID: "INC-2", Priority: "P1", Status: "In Progress", ReportedAt: businessHours, FirstResponseAt: &responded})
	clock := &testClock{now: businessHours.Add(55 * time.Minute)}
	sink := &eventSink{}
	m := newMonitor(source, clock, sink)

	n, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "response completed, resolution on track")

	source.set()
	_, err = m.Check(context.Background())
	require.NoError(t, err)
	m.mu.Lock()
	assert.Empty(t, m.notified, "closed entities are forgotten")
	m.mu.Unlock()
}

func TestSLAMonitor_SourceError(t *testing.T) {
	t.Parallel()
	source := &fakeSource{err: errors.NewStd("db unavailable")}
	_, err := newMonitor(source, &testClock{now: businessHours}, &eventSink{}).Check(context.Background())
	assert.Error(t, err)
}

func TestSLAMonitor_Run(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	source := &fakeSource{}
	source.set(sla.Entity{ID: "INC-3", Priority: "P1", Status: "Open", ReportedAt: businessHours})
	sink := &eventSink{}
	m := newMonitor(source, &testClock{now: businessHours.Add(2 * time.Hour)}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, 5*time.Millisecond)
	}()

	assert.Eventually(t, func() bool { return len(sink.names()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
