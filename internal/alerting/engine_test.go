package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/notification"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

// Monday 2024-06-03, inside the default business hours.
var businessHours = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	store    *ruleset.Store
	registry *channel.Registry
	outbox   *notification.Service
	engine   *Engine
	clock    *testClock
}

func newHarness(t *testing.T, cfg EngineConfig) *harness {
	t.Helper()
	store, err := ruleset.NewStore(ruleset.DefaultDocument(), 0)
	require.NoError(t, err)

	h := &harness{
		store:    store,
		registry: channel.NewRegistry(store.Channels()),
		clock:    &testClock{now: businessHours},
	}
	h.outbox = notification.NewService(&notification.ServiceConfig{Now: h.clock.Now})
	cfg.Now = h.clock.Now
	d := NewDispatcher(h.registry, h.outbox, cfg.Metrics, logger.Discard())
	h.engine = NewEngine(store, h.registry, nil, d.Dispatch, cfg, logger.Discard())
	return h
}

func (h *harness) process(t *testing.T, name string, record condition.Record) Decision {
	t.Helper()
	d, err := h.engine.Process(t.Context(), &Event{Name: name, Record: record, Timestamp: h.clock.Now()})
	require.NoError(t, err)
	return d
}

func criticalIncident(id string) condition.Record {
	return condition.Record{"id": id, "kind": "Incident", "priority": "P1", "title": "Database down"}
}

func TestEngine_ScheduleInWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})

	d := h.process(t, ruleset.EventIncidentCreated, criticalIncident("INC-1"))

	require.True(t, d.Matched)
	assert.Equal(t, "critical-incidents", d.Match.RuleID)
	assert.Equal(t, ruleset.ChannelOpsSlack, d.Match.ChannelID)
	assert.Equal(t, schedule.InWindow, d.ScheduleOutcome)
	assert.False(t, d.Match.Fallback)
	require.NotEmpty(t, d.MessageID)

	msgs := h.outbox.List(notification.Filter{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "[incident.created] Database down", msgs[0].Title)
	assert.Equal(t, d.MessageID, msgs[0].ID)

	history, total, err := h.store.ListHistory(t.Context(), ruleset.HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "critical-incidents", history[0].RuleID)
	assert.Equal(t, d.MessageID, history[0].MessageID)
	assert.Equal(t, businessHours, history[0].FiredAt)
}

func TestEngine_ScheduleOutOfWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})
	h.clock.Set(businessHours.Add(12 * time.Hour))

	d := h.process(t, ruleset.EventIncidentCreated, criticalIncident("INC-1"))

	assert.Equal(t, ruleset.ChannelOnCallPush, d.Match.ChannelID)
	assert.Equal(t, schedule.OutOfWindow, d.ScheduleOutcome)
}

func TestEngine_FallbackWhenScheduledChannelUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})
	h.clock.Set(businessHours.Add(12 * time.Hour))
	require.NoError(t, h.registry.SetHealthy(ruleset.ChannelOnCallPush, false))

	d := h.process(t, ruleset.EventIncidentCreated, criticalIncident("INC-1"))

	assert.Equal(t, ruleset.ChannelOnCallSMS, d.Match.ChannelID)
	assert.True(t, d.Match.Fallback)

	msgs := h.outbox.List(notification.Filter{ChannelID: ruleset.ChannelOnCallSMS})
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Fallback)
	assert.Equal(t, "P1 Incident INC-1: Database down", msgs[0].Body, "sms body is plain text")
}

func TestEngine_EventSubscriptionFiltersRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})

	d := h.process(t, ruleset.EventTicketCreated, criticalIncident("INC-1"))

	require.True(t, d.Matched)
	assert.Equal(t, "catch-all", d.Match.RuleID)
	assert.Equal(t, ruleset.ChannelBell, d.Match.ChannelID)
	assert.Empty(t, d.ScheduleOutcome)
}

func TestEngine_NoMatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})
	require.NoError(t, h.store.ToggleRule(t.Context(), "catch-all", false))

	d := h.process(t, ruleset.EventTicketCreated, condition.Record{"id": "REQ-1", "kind": "ServiceRequest"})

	assert.False(t, d.Matched)
	assert.Zero(t, h.outbox.Count())
	_, total, err := h.store.ListHistory(t.Context(), ruleset.HistoryFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestEngine_CooldownPerEntity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})

	first := h.process(t, ruleset.EventIncidentCreated, criticalIncident("INC-1"))
	require.NotEmpty(t, first.MessageID)

	h.clock.Set(businessHours.Add(time.Minute))
	again := h.process(t, ruleset.EventIncidentUpdated, criticalIncident("INC-1"))
	assert.True(t, again.Matched)
	assert.True(t, again.Suppressed, "rule cooldown is 300s")
	assert.Empty(t, again.MessageID)

	other := h.process(t, ruleset.EventIncidentCreated, criticalIncident("INC-2"))
	assert.False(t, other.Suppressed, "cooldown is tracked per entity")

	h.clock.Set(businessHours.Add(5 * time.Minute))
	later := h.process(t, ruleset.EventIncidentUpdated, criticalIncident("INC-1"))
	assert.False(t, later.Suppressed)

	assert.Equal(t, 3, h.outbox.Count())
}

func TestEngine_SLABreachesNotifiedPerType(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})

	source := &fakeSource{}
	source.set(sla.Entity{ID: "SEC-1", Kind: "SecurityCase", Priority: "High", Status: "Open",
		ReportedAt: businessHours.Add(-30 * time.Hour)})
	sink := &eventSink{}
	n, err := newMonitor(source, h.clock, sink).Check(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, ev := range sink.events {
		d, err := h.engine.Process(t.Context(), ev)
		require.NoError(t, err)
		assert.True(t, d.Matched)
		assert.Equal(t, "security-p1", d.Match.RuleID)
		assert.False(t, d.Suppressed, "sla_type %v", ev.Record["sla_type"])
	}
	assert.Equal(t, 2, h.outbox.Count(), "response and resolution breaches are both notified")

	// The same escalation again stays in cooldown.
	d, err := h.engine.Process(t.Context(), sink.events[1])
	require.NoError(t, err)
	assert.True(t, d.Suppressed)
}

func TestEngine_CooldownClaimedOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			_, err := h.engine.Process(context.Background(), &Event{
				Name:      ruleset.EventIncidentCreated,
				Record:    criticalIncident("INC-9"),
				Timestamp: businessHours,
			})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.Equal(t, 1, h.outbox.Count(), "concurrent events for one entity fire once")
}

func TestEngine_SetEvaluator(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})
	record := condition.Record{"id": "INC-1", "kind": "incident", "priority": "p1"}

	d := h.process(t, ruleset.EventIncidentCreated, record)
	assert.NotEqual(t, "critical-incidents", d.Match.RuleID)

	h.engine.SetEvaluator(condition.NewEvaluator(condition.WithCaseFolding(true)))
	d, err := h.engine.Preview(t.Context(), &Event{Name: ruleset.EventIncidentCreated, Record: record})
	require.NoError(t, err)
	assert.Equal(t, "critical-incidents", d.Match.RuleID)
}

func TestEngine_DefaultCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{DefaultCooldown: time.Hour})
	record := condition.Record{"id": "REQ-9", "kind": "ServiceRequest"}

	assert.False(t, h.process(t, ruleset.EventTicketCreated, record).Suppressed)
	assert.True(t, h.process(t, ruleset.EventTicketCreated, record).Suppressed,
		"catch-all has no cooldown of its own")
}

func TestEngine_RepositoryError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.Process(ctx, &Event{Name: ruleset.EventTicketCreated})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_DispatchFailureStillRecordsHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})
	// A registry without the bell channel makes dispatch fail.
	channels := h.store.Channels()
	registry := channel.NewRegistry(channels[:len(channels)-1])
	d := NewDispatcher(registry, h.outbox, nil, logger.Discard())
	e := NewEngine(h.store, nil, nil, d.Dispatch, EngineConfig{Now: h.clock.Now}, logger.Discard())

	dec, err := e.Process(t.Context(), &Event{Name: ruleset.EventTicketCreated, Record: condition.Record{"id": "REQ-1"}})
	require.NoError(t, err)
	assert.True(t, dec.Matched)
	assert.Empty(t, dec.MessageID)

	history, _, err := h.store.ListHistory(t.Context(), ruleset.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].MessageID)
}

func TestEngine_TestFireRule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})

	d, err := h.engine.TestFireRule(t.Context(), "security-p1")
	require.NoError(t, err)
	assert.Equal(t, ruleset.ChannelSecurityTeams, d.Match.ChannelID)
	assert.NotEmpty(t, d.MessageID)

	// Test fires bypass cooldown.
	_, err = h.engine.TestFireRule(t.Context(), "security-p1")
	require.NoError(t, err)
	assert.Equal(t, 2, h.outbox.Count())

	_, err = h.engine.TestFireRule(t.Context(), "missing")
	assert.ErrorIs(t, err, ruleset.ErrRuleNotFound)
}

func TestEngine_HistoryCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, EngineConfig{})
	h.engine.cleanupInterval = 5 * time.Millisecond

	h.process(t, ruleset.EventTicketCreated, condition.Record{"id": "REQ-1"})
	h.clock.Set(businessHours.Add(48 * time.Hour))
	h.process(t, ruleset.EventTicketCreated, condition.Record{"id": "REQ-2"})

	h.engine.StartHistoryCleanup(24 * time.Hour)
	assert.Eventually(t, func() bool {
		_, total, err := h.store.ListHistory(context.Background(), ruleset.HistoryFilter{})
		return err == nil && total == 1
	}, time.Second, 5*time.Millisecond)

	// Restart replaces the running goroutine.
	h.engine.StartHistoryCleanup(time.Hour)
	h.engine.Stop()
	h.engine.Stop()
}

func TestEngine_ConcurrentProcess(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			_, err := h.engine.Process(context.Background(), &Event{
				Name:      ruleset.EventTicketCreated,
				Record:    condition.Record{"id": string(rune('A' + i%26)), "n": i},
				Timestamp: businessHours,
			})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.Equal(t, 50, h.outbox.Count())
}

func TestEngine_PreviewDoesNotFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})

	for range 3 {
		d, err := h.engine.Preview(t.Context(), &Event{Name: ruleset.EventIncidentCreated, Record: criticalIncident("INC-1")})
		require.NoError(t, err)
		assert.Equal(t, ruleset.ChannelOpsSlack, d.Match.ChannelID)
		assert.False(t, d.Suppressed)
		assert.Empty(t, d.MessageID)
	}
	assert.Zero(t, h.outbox.Count())

	fired := h.process(t, ruleset.EventIncidentCreated, criticalIncident("INC-1"))
	assert.False(t, fired.Suppressed, "previews leave cooldowns untouched")
}

func TestEngine_PreviewAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t, EngineConfig{})
	records := []condition.Record{
		criticalIncident("INC-1"),
		{"id": "REQ-1", "kind": "ServiceRequest"},
		criticalIncident("INC-2"),
	}

	night := businessHours.Add(12 * time.Hour)
	results, err := h.engine.PreviewAll(t.Context(), ruleset.EventIncidentCreated, records, night, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, ruleset.ChannelOnCallPush, results[0].Match.ChannelID)
	assert.Equal(t, "catch-all", results[1].Match.RuleID)
	assert.Equal(t, ruleset.ChannelOnCallPush, results[2].Match.ChannelID)
	assert.Zero(t, h.outbox.Count())
}
