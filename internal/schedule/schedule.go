// Package schedule decides whether an instant falls inside a rule's
// business-hours windows and picks the matching channel.
package schedule

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/deskops/itsm-engine/internal/errors"
)

// Outcome is the binary result of resolving a schedule.
type Outcome string

const (
	InWindow    Outcome = "inWindow"
	OutOfWindow Outcome = "outOfWindow"
)

// TimeWindow is a day-of-week set with an inclusive local clock range.
// DaysOfWeek uses 0 for Sunday through 6 for Saturday.
type TimeWindow struct {
	StartTime  string `json:"start_time" yaml:"start_time"` // HH:MM
	EndTime    string `json:"end_time" yaml:"end_time"`     // HH:MM
	DaysOfWeek []int  `json:"days_of_week" yaml:"days_of_week"`
}

// Channels names the channel for each outcome.
type Channels struct {
	InWindow    string `json:"in_window" yaml:"in_window"`
	OutOfWindow string `json:"out_of_window" yaml:"out_of_window"`
}

// Rule is a timezone-aware routing override.
type Rule struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Timezone    string       `json:"timezone" yaml:"timezone"`
	TimeWindows []TimeWindow `json:"time_windows" yaml:"time_windows"`
	Channels    Channels     `json:"channels" yaml:"channels"`
	Priority    int          `json:"priority" yaml:"priority"`
	Enabled     bool         `json:"enabled" yaml:"enabled"`
}

// locations caches parsed timezones; time.LoadLocation reads tzdata on
// every call.
var locations = cache.New(cache.NoExpiration, 0)

// LoadLocation returns the cached location for name. An empty name is UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	if loc, ok := locations.Get(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locations.SetDefault(name, loc)
	return loc, nil
}

// Resolve reports whether now falls inside any of the rule's windows in the
// rule's timezone. An unknown timezone or malformed window never matches.
func Resolve(now time.Time, rule *Rule) Outcome {
	loc, err := LoadLocation(rule.Timezone)
	if err != nil {
		return OutOfWindow
	}
	local := now.In(loc)
	day := int(local.Weekday())
	tod := local.Hour()*3600 + local.Minute()*60 + local.Second()

	for i := range rule.TimeWindows {
		if rule.TimeWindows[i].contains(day, tod) {
			return InWindow
		}
	}
	return OutOfWindow
}

// Channel returns the channel selected for now.
func Channel(now time.Time, rule *Rule) (string, Outcome) {
	outcome := Resolve(now, rule)
	if outcome == InWindow {
		return rule.Channels.InWindow, outcome
	}
	return rule.Channels.OutOfWindow, outcome
}

func (w *TimeWindow) contains(day, tod int) bool {
	start, err := parseClock(w.StartTime)
	if err != nil {
		return false
	}
	end, err := parseClock(w.EndTime)
	if err != nil || start >= end {
		return false
	}
	return slices.Contains(w.DaysOfWeek, day) && start <= tod && tod <= end
}

// parseClock converts "HH:MM" to seconds since midnight. The end of a
// minute is not implied: "17:00" means 17:00:00.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("clock %q: expected HH:MM", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("clock %q: invalid hour", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 || len(m) != 2 {
		return 0, fmt.Errorf("clock %q: invalid minute", s)
	}
	return hh*3600 + mm*60, nil
}

// Validate reports every problem with the rule as a joined configuration
// error.
func Validate(rule *Rule) error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, errors.Newf(format, args...).
			Component("schedule").
			Category(errors.CategoryConfiguration).
			Context("schedule_id", rule.ID).
			Build())
	}

	if _, err := LoadLocation(rule.Timezone); err != nil {
		invalid("schedule %q: unknown timezone %q", rule.Name, rule.Timezone)
	}
	if len(rule.TimeWindows) == 0 {
		invalid("schedule %q: at least one time window is required", rule.Name)
	}
	for i, w := range rule.TimeWindows {
		start, serr := parseClock(w.StartTime)
		if serr != nil {
			invalid("schedule %q window %d: %v", rule.Name, i, serr)
		}
		end, eerr := parseClock(w.EndTime)
		if eerr != nil {
			invalid("schedule %q window %d: %v", rule.Name, i, eerr)
		}
		if serr == nil && eerr == nil && start >= end {
			invalid("schedule %q window %d: start %s must be before end %s", rule.Name, i, w.StartTime, w.EndTime)
		}
		if len(w.DaysOfWeek) == 0 {
			invalid("schedule %q window %d: no days selected", rule.Name, i)
		}
		for _, d := range w.DaysOfWeek {
			if d < 0 || d > 6 {
				invalid("schedule %q window %d: day %d outside 0-6", rule.Name, i, d)
			}
		}
	}
	if rule.Channels.InWindow == "" && rule.Channels.OutOfWindow == "" {
		invalid("schedule %q: no channels configured", rule.Name)
	}
	return errors.Join(errs...)
}
