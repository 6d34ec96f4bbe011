package cli

import (
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/routing"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func routeLabel(r routing.Result) string {
	switch {
	case !r.Matched:
		return dimColor.Sprint("NO MATCH")
	case r.Match.Degraded:
		return failColor.Sprint("DEGRADED")
	case r.Match.Fallback:
		return warnColor.Sprint("FALLBACK")
	}
	return okColor.Sprint("MATCH")
}

func outcomeLabel(o schedule.Outcome) string {
	if o == schedule.InWindow {
		return okColor.Sprint("IN WINDOW")
	}
	return warnColor.Sprint("OUT OF WINDOW")
}

func slaLabel(s sla.Status, warnPercent float64) string {
	switch {
	case s.TimeLeft == sla.Breached:
		return failColor.Sprint(string(s.TimeLeft))
	case sla.AtRisk(s, warnPercent):
		return warnColor.Sprint("At Risk")
	case s.TimeLeft == sla.Completed:
		return dimColor.Sprint(string(s.TimeLeft))
	case s.TimeLeft == sla.Unknown:
		return dimColor.Sprint(string(s.TimeLeft))
	}
	return okColor.Sprint(string(s.TimeLeft))
}

// remaining renders the time left before the due time, or the overrun
// after it.
func remaining(s sla.Status) string {
	switch s.TimeLeft {
	case sla.Breached:
		return "+" + (time.Duration(s.BreachMagnitudeMs) * time.Millisecond).Round(time.Minute).String()
	case sla.OnTrack:
		return (time.Duration(s.RemainingMs) * time.Millisecond).Round(time.Minute).String()
	}
	return "-"
}

// parseAt reads an RFC 3339 evaluation time. Empty means now.
func parseAt(value string, now func() time.Time) (time.Time, error) {
	if value == "" {
		return now(), nil
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Newf("invalid --at %q: want RFC 3339, e.g. 2024-06-03T10:00:00Z", value).
			Component("cli").
			Category(errors.CategoryValidation).
			Build()
	}
	return at, nil
}
