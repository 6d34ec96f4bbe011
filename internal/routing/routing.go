// Package routing picks the delivery channel for a record from a
// priority-ordered list of routing rules. The first matching rule wins.
package routing

import (
	"cmp"
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/deskops/itsm-engine/internal/condition"
)

// Rule maps a condition set to a target and optional fallback channel.
// Lower Priority values are evaluated first.
type Rule struct {
	ID                string                `json:"id" yaml:"id"`
	Name              string                `json:"name" yaml:"name"`
	Description       string                `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled           bool                  `json:"enabled" yaml:"enabled"`
	Priority          int                   `json:"priority" yaml:"priority"`
	Conditions        []condition.Condition `json:"conditions" yaml:"conditions"`
	GroupIDs          []string              `json:"group_ids,omitempty" yaml:"group_ids,omitempty"`
	Events            []string              `json:"events,omitempty" yaml:"events,omitempty"`
	ScheduleID        string                `json:"schedule_id,omitempty" yaml:"schedule_id,omitempty"`
	TargetChannelID   string                `json:"target_channel_id" yaml:"target_channel_id"`
	FallbackChannelID string                `json:"fallback_channel_id,omitempty" yaml:"fallback_channel_id,omitempty"`
	// CooldownSec suppresses repeat notifications from this rule; zero
	// uses the engine default.
	CooldownSec int  `json:"cooldown_sec,omitempty" yaml:"cooldown_sec,omitempty"`
	BuiltIn     bool `json:"built_in,omitempty" yaml:"built_in,omitempty"`
}

// HandlesEvent reports whether the rule listens to eventName. A rule with
// no events listens to every event.
func (r *Rule) HandlesEvent(eventName string) bool {
	return len(r.Events) == 0 || slices.Contains(r.Events, eventName)
}

// Match is the outcome of a successful resolution.
type Match struct {
	RuleID    string `json:"rule_id"`
	RuleName  string `json:"rule_name"`
	ChannelID string `json:"channel_id"`
	// Fallback is set when the target was unavailable and the fallback
	// channel was selected.
	Fallback bool `json:"fallback"`
	// Degraded is set when the target was unavailable and no fallback is
	// configured; ChannelID still names the target.
	Degraded bool `json:"degraded"`
}

// Availability reports channel health. Health is computed elsewhere and
// only consumed here.
type Availability interface {
	Available(channelID string) bool
}

// AvailabilityFunc adapts a function to Availability.
type AvailabilityFunc func(channelID string) bool

func (f AvailabilityFunc) Available(channelID string) bool { return f(channelID) }

// Resolver evaluates routing rules with a configured condition evaluator.
type Resolver struct {
	eval *condition.Evaluator
}

// NewResolver returns a resolver; a nil evaluator uses strict defaults.
func NewResolver(eval *condition.Evaluator) *Resolver {
	if eval == nil {
		eval = condition.NewEvaluator()
	}
	return &Resolver{eval: eval}
}

// Resolve returns the first enabled rule, by ascending priority, whose
// conditions all match. Rules of equal priority keep declaration order.
// A nil availability treats every channel as available.
func (r *Resolver) Resolve(record condition.Record, rules []Rule, availability Availability) (Match, bool) {
	return r.resolveSorted(record, Sorted(rules), availability)
}

// Resolve uses a default resolver.
func Resolve(record condition.Record, rules []Rule, availability Availability) (Match, bool) {
	return defaultResolver.Resolve(record, rules, availability)
}

var defaultResolver = NewResolver(nil)

// Sorted returns a copy of rules stably ordered by ascending priority.
func Sorted(rules []Rule) []Rule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b Rule) int { return cmp.Compare(a.Priority, b.Priority) })
	return out
}

func selectChannel(rule Rule, availability Availability) Match {
	m := Match{RuleID: rule.ID, RuleName: rule.Name, ChannelID: rule.TargetChannelID}
	if availability == nil || availability.Available(rule.TargetChannelID) {
		return m
	}
	if rule.FallbackChannelID != "" {
		m.ChannelID = rule.FallbackChannelID
		m.Fallback = true
		return m
	}
	m.Degraded = true
	return m
}

// Result is the resolution of one record.
type Result struct {
	Match   Match `json:"match"`
	Matched bool  `json:"matched"`
}

// ResolveAll resolves many records concurrently and returns results in
// input order. workers <= 0 means unbounded.
func (r *Resolver) ResolveAll(ctx context.Context, records []condition.Record, rules []Rule, availability Availability, workers int) ([]Result, error) {
	sorted := Sorted(rules)
	results := make([]Result, len(records))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, record := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, ok := r.resolveSorted(record, sorted, availability)
			results[i] = Result{Match: m, Matched: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Resolver) resolveSorted(record condition.Record, sorted []Rule, availability Availability) (Match, bool) {
	for i := range sorted {
		if sorted[i].Enabled && r.eval.MatchesAll(record, sorted[i].Conditions) {
			return selectChannel(sorted[i], availability), true
		}
	}
	return Match{}, false
}
