// Package metrics exposes engine counters in Prometheus format.
//
// All recording methods are safe on a nil *Metrics so callers can run
// without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deskops/itsm-engine/internal/routing"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

const namespace = "itsm"

// Routing outcome labels.
const (
	OutcomeMatched   = "matched"
	OutcomeFallback  = "fallback"
	OutcomeDegraded  = "degraded"
	OutcomeUnmatched = "unmatched"
)

// Metrics holds the engine collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	conditionEvaluations *prometheus.CounterVec
	routingOutcomes      *prometheus.CounterVec
	scheduleOutcomes     *prometheus.CounterVec
	slaStates            *prometheus.CounterVec
	dispatches           *prometheus.CounterVec
	rateLimited          *prometheus.CounterVec
	eventsDropped        prometheus.Counter
	eventsIngested       *prometheus.CounterVec
	eventDuration        prometheus.Histogram
}

// New creates a Metrics with its own registry. Go runtime collectors are
// included when withRuntime is set.
func New(withRuntime bool) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		conditionEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "condition",
			Name:      "evaluations_total",
			Help:      "Condition set evaluations by result.",
		}, []string{"result"}),
		routingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "outcomes_total",
			Help:      "Routing resolutions by outcome.",
		}, []string{"outcome"}),
		scheduleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "outcomes_total",
			Help:      "Schedule resolutions by outcome.",
		}, []string{"outcome"}),
		slaStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "calculations_total",
			Help:      "SLA calculations by type and state.",
		}, []string{"type", "state"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "dispatches_total",
			Help:      "Notifications dispatched by channel kind.",
		}, []string{"kind", "fallback"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter.",
		}, []string{"component"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because the bus buffer was full.",
		}),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "ingested_total",
			Help:      "Events received from external sources by result.",
		}, []string{"source", "result"}),
		eventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one event.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	cs := []prometheus.Collector{
		m.conditionEvaluations, m.routingOutcomes, m.scheduleOutcomes,
		m.slaStates, m.dispatches, m.rateLimited, m.eventsDropped, m.eventsIngested, m.eventDuration,
	}
	if withRuntime {
		cs = append(cs, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordCondition counts one condition set evaluation.
func (m *Metrics) RecordCondition(matched bool) {
	if m == nil {
		return
	}
	m.conditionEvaluations.WithLabelValues(strconv.FormatBool(matched)).Inc()
}

// RecordRouting counts one routing resolution.
func (m *Metrics) RecordRouting(match routing.Match, matched bool) {
	if m == nil {
		return
	}
	m.routingOutcomes.WithLabelValues(RoutingOutcome(match, matched)).Inc()
}

// RoutingOutcome maps a resolution to its outcome label.
func RoutingOutcome(match routing.Match, matched bool) string {
	switch {
	case !matched:
		return OutcomeUnmatched
	case match.Fallback:
		return OutcomeFallback
	case match.Degraded:
		return OutcomeDegraded
	default:
		return OutcomeMatched
	}
}

// RecordSchedule counts one schedule resolution.
func (m *Metrics) RecordSchedule(outcome schedule.Outcome) {
	if m == nil {
		return
	}
	m.scheduleOutcomes.WithLabelValues(string(outcome)).Inc()
}

// RecordSLA counts one SLA calculation.
func (m *Metrics) RecordSLA(status sla.Status) {
	if m == nil {
		return
	}
	m.slaStates.WithLabelValues(string(status.Type), string(status.TimeLeft)).Inc()
}

// RecordDispatch counts one delivered notification.
func (m *Metrics) RecordDispatch(kind string, fallback bool) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(kind, strconv.FormatBool(fallback)).Inc()
}

// RecordRateLimited counts one rejected request.
func (m *Metrics) RecordRateLimited(component string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(component).Inc()
}

// RecordDropped counts one dropped event.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// RecordIngest counts one event received from source. result is
// "accepted", "invalid" or "dropped".
func (m *Metrics) RecordIngest(source, result string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(source, result).Inc()
}

// ObserveEvent records how long an event took to handle.
func (m *Metrics) ObserveEvent(d time.Duration) {
	if m == nil {
		return
	}
	m.eventDuration.Observe(d.Seconds())
}
