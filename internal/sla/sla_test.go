package sla

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestCalculate_BreachedSecurityCase(t *testing.T) {
	t.Parallel()
	e := &Entity{ID: "SEC-1", Kind: "SecurityCase", Priority: "High", Status: "Investigating", ReportedAt: now.Add(-30 * time.Hour)}

	s := Calculate(e, Resolution, DefaultTargets(), now)
	assert.True(t, s.IsBreached)
	assert.InDelta(t, 0, s.PercentLeft, 0)
	assert.Equal(t, Breached, s.TimeLeft)
	assert.Equal(t, (6 * time.Hour).Milliseconds(), s.BreachMagnitudeMs)
	assert.Zero(t, s.RemainingMs)
	require.NotNil(t, s.DueAt)
	assert.True(t, s.DueAt.Equal(now.Add(-6*time.Hour)))
}

func TestCalculate_ResolvedIsFrozen(t *testing.T) {
	t.Parallel()
	for _, age := range []time.Duration{time.Minute, 30 * time.Hour, 365 * 24 * time.Hour} {
		for _, status := range []string{"Resolved", "resolved", "Closed"} {
			e := &Entity{Priority: "High", Status: status, ReportedAt: now.Add(-age)}
			for _, typ := range []Type{Response, Resolution} {
				s := Calculate(e, typ, DefaultTargets(), now)
				assert.Equal(t, Status{Type: typ, PercentLeft: 100, TimeLeft: Completed}, s)
			}
		}
	}

	e := &Entity{Priority: "Low", Status: "Open", ReportedAt: now.Add(-100 * time.Hour), ResolvedAt: ptr(now.Add(-time.Hour))}
	assert.Equal(t, Completed, Calculate(e, Resolution, DefaultTargets(), now).TimeLeft)
}

func TestCalculate_FirstResponseFreezesResponseOnly(t *testing.T) {
	t.Parallel()
	e := &Entity{Priority: "Medium", Status: "In Progress", ReportedAt: now.Add(-50 * time.Hour), FirstResponseAt: ptr(now.Add(-49 * time.Hour))}

	assert.Equal(t, Completed, Calculate(e, Response, DefaultTargets(), now).TimeLeft)
	res := Calculate(e, Resolution, DefaultTargets(), now)
	assert.True(t, res.IsBreached)
	assert.Equal(t, (2 * time.Hour).Milliseconds(), res.BreachMagnitudeMs)
}

func TestCalculate_OnTrack(t *testing.T) {
	t.Parallel()
	e := &Entity{Priority: "P3", Status: "Open", ReportedAt: now.Add(-6 * time.Hour)}

	s := Calculate(e, Resolution, DefaultTargets(), now)
	assert.False(t, s.IsBreached)
	assert.Equal(t, OnTrack, s.TimeLeft)
	assert.InDelta(t, 75, s.PercentLeft, 1e-9)
	assert.Equal(t, (18 * time.Hour).Milliseconds(), s.RemainingMs)
	assert.Zero(t, s.BreachMagnitudeMs)
}

func TestCalculate_ExactlyAtTargetIsNotBreached(t *testing.T) {
	t.Parallel()
	e := &Entity{Priority: "High", Status: "Open", ReportedAt: now.Add(-time.Hour)}
	s := Calculate(e, Response, DefaultTargets(), now)
	assert.False(t, s.IsBreached)
	assert.InDelta(t, 0, s.PercentLeft, 0)

	s = Calculate(e, Response, DefaultTargets(), now.Add(time.Millisecond))
	assert.True(t, s.IsBreached)
	assert.Equal(t, int64(1), s.BreachMagnitudeMs)
}

func TestCalculate_FutureReportClampsToFull(t *testing.T) {
	t.Parallel()
	e := &Entity{Priority: "High", Status: "Open", ReportedAt: now.Add(time.Hour)}
	s := Calculate(e, Response, DefaultTargets(), now)
	assert.InDelta(t, 100, s.PercentLeft, 0)
	assert.False(t, s.IsBreached)
}

func TestCalculate_Unknown(t *testing.T) {
	t.Parallel()
	e := &Entity{Priority: "High", Status: "Open"}
	for _, typ := range []Type{Response, Resolution} {
		s := Calculate(e, typ, DefaultTargets(), now)
		assert.Equal(t, Unknown, s.TimeLeft)
		assert.InDelta(t, 0, s.PercentLeft, 0)
		assert.False(t, s.IsBreached)
		assert.Nil(t, s.DueAt)
	}

	assert.Equal(t, Unknown, Calculate(&Entity{ReportedAt: now}, "bogus", DefaultTargets(), now).TimeLeft)
}

func TestCalculate_MonotonicAndBreachPermanent(t *testing.T) {
	t.Parallel()
	reported := now.Add(-2 * time.Hour)
	e := &Entity{Priority: "P2", Status: "Open", ReportedAt: reported}
	target := reported.Add(8 * time.Hour)

	prev := 101.0
	for step := time.Duration(0); step <= 16*time.Hour; step += 7 * time.Minute {
		at := reported.Add(step)
		s := Calculate(e, Resolution, DefaultTargets(), at)
		assert.LessOrEqual(t, s.PercentLeft, prev, at)
		prev = s.PercentLeft
		assert.Equal(t, at.After(target), s.IsBreached, at)
		assert.GreaterOrEqual(t, s.PercentLeft, 0.0)
		assert.LessOrEqual(t, s.PercentLeft, 100.0)
	}
}

func TestTargetTable_Hours(t *testing.T) {
	t.Parallel()
	table := DefaultTargets()

	assert.InDelta(t, 24, table.Hours("High", Resolution), 0)
	assert.InDelta(t, 24, table.Hours("high", Resolution), 0, "case-insensitive")
	assert.InDelta(t, 2, table.Hours("P2", Response), 0)
	assert.InDelta(t, 4, table.Hours("Urgent", Response), 0, "fallback response")
	assert.InDelta(t, 48, table.Hours("", Resolution), 0, "fallback resolution")

	empty := TargetTable{}
	assert.InDelta(t, DefaultFallbackResponseHours, empty.Hours("High", Response), 0)
	assert.InDelta(t, DefaultFallbackResolutionHours, empty.Hours("High", Resolution), 0)

	custom := TargetTable{Response: map[string]float64{"gold": 0.25}, FallbackResponse: 2}
	assert.InDelta(t, 0.25, custom.Hours("Gold", Response), 0)
	assert.InDelta(t, 2, custom.Hours("silver", Response), 0)
}

func TestValidHours(t *testing.T) {
	t.Parallel()
	for _, h := range []float64{MinTargetHours, 0.5, 24, MaxTargetHours} {
		assert.True(t, ValidHours(h), "%v", h)
	}
	for _, h := range []float64{0, -1, 1e-12, MaxTargetHours + 1, math.Inf(1), math.Inf(-1), math.NaN()} {
		assert.False(t, ValidHours(h), "%v", h)
	}
}

func TestCalculate_UnusableTargetsFallBack(t *testing.T) {
	t.Parallel()
	e := &Entity{ID: "SEC-1", Priority: "High", Status: "Open", ReportedAt: now.Add(-30 * time.Hour)}

	for _, h := range []float64{1e-12, math.Inf(1), math.NaN()} {
		table := TargetTable{
			Resolution:         map[string]float64{"High": h},
			FallbackResolution: math.Inf(1),
		}
		assert.InDelta(t, DefaultFallbackResolutionHours, table.Hours("High", Resolution), 0)

		s := Calculate(e, Resolution, table, now)
		assert.False(t, math.IsNaN(s.PercentLeft), "target %v", h)
		assert.GreaterOrEqual(t, s.PercentLeft, 0.0)
		assert.LessOrEqual(t, s.PercentLeft, 100.0)
		assert.False(t, s.IsBreached, "48h fallback is not breached after 30h")
		assert.GreaterOrEqual(t, s.BreachMagnitudeMs, int64(0))

		_, err := json.Marshal(s)
		require.NoError(t, err)
	}
}

func TestAtRisk(t *testing.T) {
	t.Parallel()
	assert.True(t, AtRisk(Status{TimeLeft: OnTrack, PercentLeft: 15}, 20))
	assert.True(t, AtRisk(Status{TimeLeft: OnTrack, PercentLeft: 20}, 20))
	assert.False(t, AtRisk(Status{TimeLeft: OnTrack, PercentLeft: 21}, 20))
	assert.False(t, AtRisk(Status{TimeLeft: Breached, PercentLeft: 0}, 20))
	assert.False(t, AtRisk(Status{TimeLeft: Completed, PercentLeft: 100}, 20))
	assert.False(t, AtRisk(Status{TimeLeft: Unknown}, 20))
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	e := &Entity{ID: "INC-7", Priority: "P1", Status: "Open", ReportedAt: now.Add(-2 * time.Hour)}
	s := Summarize(e, DefaultTargets(), now)
	assert.Equal(t, "INC-7", s.EntityID)
	assert.Equal(t, Breached, s.Response.TimeLeft)
	assert.Equal(t, OnTrack, s.Resolution.TimeLeft)
	assert.InDelta(t, 50, s.Resolution.PercentLeft, 1e-9)
}
