// Package sla computes response and resolution SLA status for tickets,
// incidents and cases. Every calculation takes now as an input; nothing
// here reads the wall clock.
package sla

import (
	"math"
	"strings"
	"time"
)

// Type selects which milestone the SLA measures.
type Type string

const (
	Response   Type = "response"
	Resolution Type = "resolution"
)

// Valid reports whether t is a known SLA type.
func (t Type) Valid() bool { return t == Response || t == Resolution }

// TimeLeft is the display state of an SLA.
type TimeLeft string

const (
	Completed TimeLeft = "Completed"
	Breached  TimeLeft = "Breached"
	OnTrack   TimeLeft = "On Track"
	Unknown   TimeLeft = "Unknown"
)

// Fallback target hours for priorities missing from a table.
const (
	DefaultFallbackResponseHours   = 4
	DefaultFallbackResolutionHours = 48
)

// Target hour bounds. A target under one millisecond has no window to
// measure and one over a century overflows millisecond arithmetic.
const (
	MinTargetHours = 1.0 / 3_600_000
	MaxTargetHours = 100 * 365 * 24
)

// ValidHours reports whether h is a usable target. NaN and infinities
// are rejected.
func ValidHours(h float64) bool {
	return h >= MinTargetHours && h <= MaxTargetHours
}

// Entity is anything with a priority, a status and milestone timestamps.
type Entity struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind,omitempty"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	ReportedAt      time.Time  `json:"reported_at"`
	FirstResponseAt *time.Time `json:"first_response_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Terminal reports whether the entity is resolved or closed.
func (e *Entity) Terminal() bool {
	if e.ResolvedAt != nil && !e.ResolvedAt.IsZero() {
		return true
	}
	return strings.EqualFold(e.Status, "Resolved") || strings.EqualFold(e.Status, "Closed")
}

// Completed reports whether the milestone measured by t has been reached.
func (e *Entity) Completed(t Type) bool {
	if e.Terminal() {
		return true
	}
	return t == Response && e.FirstResponseAt != nil && !e.FirstResponseAt.IsZero()
}

// TargetTable maps priority to target hours per SLA type.
type TargetTable struct {
	Response           map[string]float64 `json:"response" yaml:"response"`
	Resolution         map[string]float64 `json:"resolution" yaml:"resolution"`
	FallbackResponse   float64            `json:"fallback_response,omitempty" yaml:"fallback_response,omitempty"`
	FallbackResolution float64            `json:"fallback_resolution,omitempty" yaml:"fallback_resolution,omitempty"`
}

// DefaultTargets returns the built-in targets. Both the High/Medium/Low and
// the P1-P4 priority schemes are present.
func DefaultTargets() TargetTable {
	return TargetTable{
		Response: map[string]float64{
			"Critical": 0.5, "High": 1, "Medium": 4, "Low": 8,
			"P1": 1, "P2": 2, "P3": 4, "P4": 8,
		},
		Resolution: map[string]float64{
			"Critical": 4, "High": 24, "Medium": 48, "Low": 72,
			"P1": 4, "P2": 8, "P3": 24, "P4": 48,
		},
		FallbackResponse:   DefaultFallbackResponseHours,
		FallbackResolution: DefaultFallbackResolutionHours,
	}
}

// Hours returns the target hours for a priority: exact key, then a
// case-insensitive key, then the fallback.
func (tt TargetTable) Hours(priority string, t Type) float64 {
	table, fallback := tt.Response, tt.FallbackResponse
	if !ValidHours(fallback) {
		fallback = DefaultFallbackResponseHours
	}
	if t == Resolution {
		table, fallback = tt.Resolution, tt.FallbackResolution
		if !ValidHours(fallback) {
			fallback = DefaultFallbackResolutionHours
		}
	}

	if h, ok := table[priority]; ok && ValidHours(h) {
		return h
	}
	for k, h := range table {
		if strings.EqualFold(k, priority) && ValidHours(h) {
			return h
		}
	}
	return fallback
}

// Status is the computed SLA state.
type Status struct {
	Type              Type       `json:"type"`
	PercentLeft       float64    `json:"percent_left"`
	IsBreached        bool       `json:"is_breached"`
	TimeLeft          TimeLeft   `json:"time_left"`
	BreachMagnitudeMs int64      `json:"breach_magnitude_ms"`
	RemainingMs       int64      `json:"remaining_ms"`
	DueAt             *time.Time `json:"due_at,omitempty"`
}

// Calculate computes the SLA status of entity at now. It never fails:
// a missing report time yields the Unknown state.
func Calculate(entity *Entity, t Type, table TargetTable, now time.Time) Status {
	if entity.Completed(t) {
		return Status{Type: t, PercentLeft: 100, TimeLeft: Completed}
	}
	if entity.ReportedAt.IsZero() || !t.Valid() {
		return Status{Type: t, PercentLeft: 0, TimeLeft: Unknown}
	}

	reported := entity.ReportedAt.UnixMilli()
	windowMs := int64(math.Round(table.Hours(entity.Priority, t) * float64(time.Hour/time.Millisecond)))
	if windowMs <= 0 {
		return Status{Type: t, PercentLeft: 0, TimeLeft: Unknown}
	}
	targetMs := reported + windowMs
	nowMs := now.UnixMilli()
	due := time.UnixMilli(targetMs).In(entity.ReportedAt.Location())

	used := clamp(float64(nowMs-reported)/float64(windowMs), 0, 1) * 100
	s := Status{
		Type:        t,
		PercentLeft: clamp(100-used, 0, 100),
		IsBreached:  nowMs > targetMs,
		TimeLeft:    OnTrack,
		RemainingMs: max(targetMs-nowMs, 0),
		DueAt:       &due,
	}
	if s.IsBreached {
		s.TimeLeft = Breached
		s.BreachMagnitudeMs = nowMs - targetMs
	}
	return s
}

// AtRisk reports an open, unbreached SLA whose remaining share is at or
// below warnPercent.
func AtRisk(s Status, warnPercent float64) bool {
	return s.TimeLeft == OnTrack && s.PercentLeft <= warnPercent
}

// Summary bundles both SLA types of one entity.
type Summary struct {
	EntityID   string `json:"entity_id"`
	Response   Status `json:"response"`
	Resolution Status `json:"resolution"`
}

// Summarize calculates both SLA types.
func Summarize(entity *Entity, table TargetTable, now time.Time) Summary {
	return Summary{
		EntityID:   entity.ID,
		Response:   Calculate(entity, Response, table, now),
		Resolution: Calculate(entity, Resolution, table, now),
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
