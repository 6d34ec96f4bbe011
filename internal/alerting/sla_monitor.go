package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/observability/metrics"
	"github.com/deskops/itsm-engine/internal/ruleset"
	"github.com/deskops/itsm-engine/internal/sla"
)

// EntitySource lists the tickets, incidents and cases whose SLAs are
// watched.
type EntitySource interface {
	OpenEntities(ctx context.Context) ([]sla.Entity, error)
}

// EntitySourceFunc adapts a function to EntitySource.
type EntitySourceFunc func(ctx context.Context) ([]sla.Entity, error)

func (f EntitySourceFunc) OpenEntities(ctx context.Context) ([]sla.Entity, error) { return f(ctx) }

type slaState uint8

const (
	stateOK slaState = iota
	stateWarning
	stateBreached
)

// SLAMonitorConfig holds optional monitor settings.
type SLAMonitorConfig struct {
	// WarnPercentLeft publishes sla.warning at or below this share.
	WarnPercentLeft float64
	Metrics         *metrics.Metrics
	// Publish receives generated events; defaults to TryPublish.
	Publish func(*Event) bool
	Now     func() time.Time
}

// SLAMonitor turns SLA state changes into sla.warning and sla.breached
// events. Each state is published once per entity and SLA type.
type SLAMonitor struct {
	source  EntitySource
	targets func() sla.TargetTable
	warn    float64
	metrics *metrics.Metrics
	publish func(*Event) bool
	now     func() time.Time
	log     logger.Logger

	mu       sync.Mutex
	notified map[string]slaState
}

// NewSLAMonitor creates a monitor reading targets on every check so rule
// reloads take effect.
func NewSLAMonitor(source EntitySource, targets func() sla.TargetTable, cfg SLAMonitorConfig, log logger.Logger) *SLAMonitor {
	if cfg.Publish == nil {
		cfg.Publish = TryPublish
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &SLAMonitor{
		source:   source,
		targets:  targets,
		warn:     cfg.WarnPercentLeft,
		metrics:  cfg.Metrics,
		publish:  cfg.Publish,
		now:      cfg.Now,
		log:      log.With(logger.Component("sla-monitor")),
		notified: make(map[string]slaState),
	}
}

// Check evaluates every open entity and returns the number of events
// published.
func (m *SLAMonitor) Check(ctx context.Context) (int, error) {
	entities, err := m.source.OpenEntities(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	table := m.targets()

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(entities)*2)
	published := 0
	for i := range entities {
		ent := &entities[i]
		for _, t := range []sla.Type{sla.Response, sla.Resolution} {
			key := ent.ID + "|" + string(t)
			seen[key] = struct{}{}

			status := sla.Calculate(ent, t, table, now)
			m.metrics.RecordSLA(status)

			state := stateOK
			switch {
			case status.IsBreached:
				state = stateBreached
			case sla.AtRisk(status, m.warn):
				state = stateWarning
			}
			prev := m.notified[key]
			m.notified[key] = state
			if state <= prev {
				continue
			}

			name := ruleset.EventSLAWarning
			if state == stateBreached {
				name = ruleset.EventSLABreached
			}
			if m.publish(&Event{Name: name, Record: slaRecord(ent, status), Timestamp: now}) {
				published++
			}
			m.log.Info("sla state changed",
				logger.String("entity_id", ent.ID),
				logger.String("sla_type", string(t)),
				logger.String("event", name),
				logger.Float64("percent_left", status.PercentLeft))
		}
	}
	for key := range m.notified {
		if _, ok := seen[key]; !ok {
			delete(m.notified, key)
		}
	}
	return published, nil
}

// Run checks on every interval tick until ctx is done.
func (m *SLAMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("sla check failed", logger.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func slaRecord(ent *sla.Entity, status sla.Status) condition.Record {
	r := condition.Record{
		"id":               ent.ID,
		"kind":             ent.Kind,
		"priority":         ent.Priority,
		"status":           ent.Status,
		"reported_at":      ent.ReportedAt,
		"sla_type":         string(status.Type),
		"sla_percent_left": status.PercentLeft,
		"sla_time_left":    string(status.TimeLeft),
	}
	if status.DueAt != nil {
		r["due_at"] = *status.DueAt
	}
	return r
}
