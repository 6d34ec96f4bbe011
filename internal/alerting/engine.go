package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/observability/metrics"
	"github.com/deskops/itsm-engine/internal/routing"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/schedule"
)

const (
	// saveHistoryTimeout is the context deadline for persisting history.
	saveHistoryTimeout = 3 * time.Second
	// cleanupTimeout is the context deadline for one history deletion.
	cleanupTimeout = 5 * time.Second
	// defaultCleanupInterval is how often history cleanup runs.
	defaultCleanupInterval = 1 * time.Hour
)

// DispatchFunc delivers a notification for a routing match and returns the
// outbox message ID.
type DispatchFunc func(rule *routing.Rule, match routing.Match, event *Event) (string, error)

// Decision is the outcome of routing one event.
type Decision struct {
	Event           string           `json:"event"`
	Matched         bool             `json:"matched"`
	Match           routing.Match    `json:"match"`
	ScheduleOutcome schedule.Outcome `json:"schedule_outcome,omitempty"`
	Suppressed      bool             `json:"suppressed,omitempty"`
	MessageID       string           `json:"message_id,omitempty"`
}

// EngineConfig holds optional engine settings.
type EngineConfig struct {
	// DefaultCooldown applies to rules without their own cooldown.
	DefaultCooldown time.Duration
	Metrics         *metrics.Metrics
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Engine routes incoming events to notification channels.
type Engine struct {
	repo            ruleset.Repository
	channels        routing.Availability
	resolver        atomic.Pointer[routing.Resolver]
	dispatch        DispatchFunc
	metrics         *metrics.Metrics
	log             logger.Logger
	now             func() time.Time
	defaultCooldown time.Duration

	// Cooldown tracking per rule and entity (in-memory, resets on restart)
	cooldowns   map[string]time.Time
	cooldownsMu sync.Mutex

	cleanupStop     chan struct{}
	cleanupDone     chan struct{}
	cleanupMu       sync.Mutex
	cleanupInterval time.Duration
}

// NewEngine creates a routing engine.
func NewEngine(
	repo ruleset.Repository,
	channels routing.Availability,
	eval *condition.Evaluator,
	dispatch DispatchFunc,
	cfg EngineConfig,
	log logger.Logger,
) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	e := &Engine{
		repo:            repo,
		channels:        channels,
		dispatch:        dispatch,
		metrics:         cfg.Metrics,
		log:             log.With(logger.Component("alerting")),
		now:             cfg.Now,
		defaultCooldown: cfg.DefaultCooldown,
		cooldowns:       make(map[string]time.Time),
		cleanupInterval: defaultCleanupInterval,
	}
	e.SetEvaluator(eval)
	return e
}

// SetEvaluator swaps the condition evaluator, e.g. after the field catalog
// changed. Events already being resolved keep the previous one.
func (e *Engine) SetEvaluator(eval *condition.Evaluator) {
	e.resolver.Store(routing.NewResolver(eval))
}

// HandleEvent is the event bus handler.
func (e *Engine) HandleEvent(event *Event) {
	if _, err := e.Process(context.Background(), event); err != nil {
		e.log.Error("event processing failed",
			logger.String("event", event.Name),
			logger.Error(err))
	}
}

// Process routes an event: it keeps enabled rules subscribed to the event,
// swaps in schedule channels, resolves the first match and fires it unless
// the rule is cooling down for the same entity.
func (e *Engine) Process(ctx context.Context, event *Event) (Decision, error) {
	started := time.Now()
	defer func() { e.metrics.ObserveEvent(time.Since(started)) }()

	decision, rule, err := e.resolve(ctx, event)
	if err != nil || !decision.Matched {
		return decision, err
	}

	if !e.claimCooldown(cooldownKey(rule.ID, event), e.cooldownFor(rule), event.Timestamp) {
		decision.Suppressed = true
		e.log.Debug("rule in cooldown",
			logger.String("rule_id", rule.ID),
			logger.String("entity_id", event.EntityID()))
		return decision, nil
	}

	decision.MessageID = e.fireRule(ctx, rule, decision.Match, event)
	return decision, nil
}

// Preview resolves an event without firing, recording history or touching
// cooldowns.
func (e *Engine) Preview(ctx context.Context, event *Event) (Decision, error) {
	decision, _, err := e.resolve(ctx, event)
	return decision, err
}

// PreviewAll resolves many records for one event name concurrently.
// Results keep input order.
func (e *Engine) PreviewAll(ctx context.Context, eventName string, records []condition.Record, at time.Time, workers int) ([]routing.Result, error) {
	if at.IsZero() {
		at = e.now()
	}
	candidates, err := e.candidates(ctx, eventName)
	if err != nil {
		return nil, err
	}
	e.applySchedules(ctx, candidates, at)
	return e.resolver.Load().ResolveAll(ctx, records, candidates, e.channels, workers)
}

func (e *Engine) candidates(ctx context.Context, eventName string) ([]routing.Rule, error) {
	rules, err := e.repo.EnabledRules(ctx)
	if err != nil {
		return nil, err
	}
	out := rules[:0]
	for i := range rules {
		if rules[i].HandlesEvent(eventName) {
			out = append(out, rules[i])
		}
	}
	return out, nil
}

func (e *Engine) resolve(ctx context.Context, event *Event) (Decision, *routing.Rule, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	decision := Decision{Event: event.Name}

	candidates, err := e.candidates(ctx, event.Name)
	if err != nil {
		return decision, nil, err
	}

	outcomes := e.applySchedules(ctx, candidates, event.Timestamp)
	m, ok := e.resolver.Load().Resolve(event.Record, candidates, e.channels)
	e.metrics.RecordCondition(ok)
	e.metrics.RecordRouting(m, ok)
	if !ok {
		e.log.Debug("no routing rule matched", logger.String("event", event.Name))
		return decision, nil, nil
	}

	decision.Matched = true
	decision.Match = m
	if out, ok := outcomes[m.RuleID]; ok {
		decision.ScheduleOutcome = out
		e.metrics.RecordSchedule(out)
	}
	return decision, findRule(candidates, m.RuleID), nil
}

// applySchedules replaces the target of scheduled rules with the channel
// for the event time. Unknown or disabled schedules leave the rule's own
// target in place.
func (e *Engine) applySchedules(ctx context.Context, rules []routing.Rule, at time.Time) map[string]schedule.Outcome {
	outcomes := make(map[string]schedule.Outcome)
	for i := range rules {
		r := &rules[i]
		if r.ScheduleID == "" {
			continue
		}
		sched, err := e.repo.Schedule(ctx, r.ScheduleID)
		if err != nil {
			e.log.Warn("schedule lookup failed",
				logger.String("rule_id", r.ID),
				logger.String("schedule_id", r.ScheduleID),
				logger.Error(err))
			continue
		}
		if !sched.Enabled {
			continue
		}
		ch, out := schedule.Channel(at, sched)
		if ch != "" {
			r.TargetChannelID = ch
		}
		outcomes[r.ID] = out
	}
	return outcomes
}

func findRule(rules []routing.Rule, id string) *routing.Rule {
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i]
		}
	}
	return &routing.Rule{ID: id}
}

// cooldownKey scopes a cooldown to the rule and the entity. SLA events
// add their name and SLA type, so each escalation of each SLA is
// notified once.
func cooldownKey(ruleID string, event *Event) string {
	key := ruleID + "|" + event.EntityID()
	if t, ok := event.Record["sla_type"].(string); ok && t != "" {
		key += "|" + event.Name + "|" + t
	}
	return key
}

func (e *Engine) cooldownFor(rule *routing.Rule) time.Duration {
	if rule.CooldownSec > 0 {
		return time.Duration(rule.CooldownSec) * time.Second
	}
	return e.defaultCooldown
}

// claimCooldown reports whether the rule may fire for key at the given
// time and, if so, starts its cooldown. Check and set happen under one
// lock so concurrent callers fire at most once.
func (e *Engine) claimCooldown(key string, cooldown time.Duration, at time.Time) bool {
	if cooldown <= 0 {
		return true
	}
	e.cooldownsMu.Lock()
	defer e.cooldownsMu.Unlock()
	if lastFired, exists := e.cooldowns[key]; exists && at.Sub(lastFired) < cooldown {
		return false
	}
	e.cooldowns[key] = at
	return true
}

func (e *Engine) fireRule(ctx context.Context, rule *routing.Rule, match routing.Match, event *Event) string {

	var messageID string
	if e.dispatch != nil {
		id, err := e.dispatch(rule, match, event)
		if err != nil {
			e.log.Error("notification dispatch failed",
				logger.String("rule_id", rule.ID),
				logger.String("channel_id", match.ChannelID),
				logger.Error(err))
		}
		messageID = id
	}

	history := &ruleset.HistoryEntry{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		EventName: event.Name,
		ChannelID: match.ChannelID,
		Fallback:  match.Fallback,
		Degraded:  match.Degraded,
		MessageID: messageID,
		EventData: event.Record,
		FiredAt:   event.Timestamp,
	}
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), saveHistoryTimeout)
	defer saveCancel()
	if err := e.repo.SaveHistory(saveCtx, history); err != nil {
		e.log.Error("failed to save routing history",
			logger.String("rule_id", rule.ID),
			logger.Error(err))
	}
	return messageID
}

// TestFireRule fires a rule directly, bypassing conditions and cooldown.
// Schedules and channel fallback still apply.
func (e *Engine) TestFireRule(ctx context.Context, ruleID string) (Decision, error) {
	rule, err := e.repo.GetRule(ctx, ruleID)
	if err != nil {
		return Decision{}, err
	}
	event := &Event{
		Name:      "rule.test",
		Record:    condition.Record{"test": true},
		Timestamp: e.now(),
	}

	probe := *rule
	probe.Enabled = true
	probe.Conditions = nil
	probe.GroupIDs = nil
	rules := []routing.Rule{probe}
	outcomes := e.applySchedules(ctx, rules, event.Timestamp)
	match, _ := e.resolver.Load().Resolve(event.Record, rules, e.channels)

	return Decision{
		Event:           event.Name,
		Matched:         true,
		Match:           match,
		ScheduleOutcome: outcomes[rule.ID],
		MessageID:       e.fireRule(ctx, &rules[0], match, event),
	}, nil
}

// StartHistoryCleanup starts a background goroutine that periodically
// deletes history older than retention. Zero disables cleanup.
func (e *Engine) StartHistoryCleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	e.stopCleanup()

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	e.cleanupMu.Lock()
	e.cleanupStop = stopCh
	e.cleanupDone = doneCh
	interval := e.cleanupInterval
	e.cleanupMu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.cleanupHistory(retention)
			case <-stopCh:
				return
			}
		}
	}()
}

func (e *Engine) cleanupHistory(retention time.Duration) {
	cutoff := e.now().Add(-retention)
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	deleted, err := e.repo.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		e.log.Error("history cleanup failed", logger.Error(err))
		return
	}
	if deleted > 0 {
		e.log.Info("history cleanup completed",
			logger.Int("deleted", deleted),
			logger.Duration("retention", retention))
	}
}

// stopCleanup signals the cleanup goroutine and waits for it to exit.
func (e *Engine) stopCleanup() {
	e.cleanupMu.Lock()
	stopCh, doneCh := e.cleanupStop, e.cleanupDone
	e.cleanupStop, e.cleanupDone = nil, nil
	e.cleanupMu.Unlock()
	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
}

// Stop shuts down background goroutines.
func (e *Engine) Stop() {
	e.stopCleanup()
}
