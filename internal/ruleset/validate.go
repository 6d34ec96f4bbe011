package ruleset

import (
	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

// ErrUnknownField is wrapped by errors for conditions on fields missing
// from the catalog.
var ErrUnknownField = errors.NewStd("unknown field")

// Validate checks every condition against the field catalog, every
// schedule, every channel and every cross reference. All problems are
// returned joined.
func (d *Document) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	types := FieldTypes(d.Catalog())

	checkConditions := func(owner, id string, conds []condition.Condition) {
		for _, c := range conds {
			if err := validateCondition(types, c); err != nil {
				add(errors.Newf("%s %q: %w", owner, id, err).
					Component("ruleset").
					Category(errors.CategoryConfiguration).
					Context(owner+"_id", id).
					Build())
			}
		}
	}

	groupIDs := make(map[string]bool, len(d.Groups))
	for _, g := range d.Groups {
		add(duplicate(groupIDs, "group", g.ID))
		checkConditions("group", g.ID, g.Conditions)
	}

	channelIDs := make(map[string]bool, len(d.Channels))
	for i := range d.Channels {
		add(duplicate(channelIDs, "channel", d.Channels[i].ID))
		add(channel.Validate(&d.Channels[i]))
	}

	scheduleIDs := make(map[string]bool, len(d.Schedules))
	for i := range d.Schedules {
		s := &d.Schedules[i]
		add(duplicate(scheduleIDs, "schedule", s.ID))
		add(schedule.Validate(s))
		for _, ch := range []string{s.Channels.InWindow, s.Channels.OutOfWindow} {
			if ch != "" && !channelIDs[ch] {
				add(unknownRef("schedule", s.ID, "channel", ch))
			}
		}
	}

	ruleIDs := make(map[string]bool, len(d.Routing))
	for _, r := range d.Routing {
		add(duplicate(ruleIDs, "routing rule", r.ID))
		checkConditions("routing_rule", r.ID, r.Conditions)
		for _, gid := range r.GroupIDs {
			if !groupIDs[gid] {
				add(unknownRef("routing rule", r.ID, "group", gid))
			}
		}
		if r.TargetChannelID == "" && r.ScheduleID == "" {
			add(errors.Newf("routing rule %q: target channel or schedule is required", r.ID).
				Component("ruleset").
				Category(errors.CategoryConfiguration).
				Build())
		}
		for _, ch := range []string{r.TargetChannelID, r.FallbackChannelID} {
			if ch != "" && !channelIDs[ch] {
				add(unknownRef("routing rule", r.ID, "channel", ch))
			}
		}
		if r.ScheduleID != "" && !scheduleIDs[r.ScheduleID] {
			add(unknownRef("routing rule", r.ID, "schedule", r.ScheduleID))
		}
		if r.CooldownSec < 0 {
			add(errors.Newf("routing rule %q: cooldown cannot be negative", r.ID).
				Component("ruleset").
				Category(errors.CategoryConfiguration).
				Build())
		}
	}

	for _, table := range []map[string]float64{d.SLATargets.Response, d.SLATargets.Resolution} {
		for p, h := range table {
			if !sla.ValidHours(h) {
				add(errors.Newf("sla target for %q must be between 1ms and %vh, got %v", p, sla.MaxTargetHours, h).
					Component("ruleset").
					Category(errors.CategoryConfiguration).
					Build())
			}
		}
	}
	for _, fb := range []struct {
		name  string
		hours float64
	}{
		{"fallback_response", d.SLATargets.FallbackResponse},
		{"fallback_resolution", d.SLATargets.FallbackResolution},
	} {
		if fb.hours != 0 && !sla.ValidHours(fb.hours) {
			add(errors.Newf("sla %s must be between 1ms and %vh, got %v", fb.name, sla.MaxTargetHours, fb.hours).
				Component("ruleset").
				Category(errors.CategoryConfiguration).
				Build())
		}
	}

	return errors.Join(errs...)
}

// ValidateCondition checks one condition against a field catalog.
func ValidateCondition(catalog []Field, c condition.Condition) error {
	return validateCondition(FieldTypes(catalog), c)
}

func validateCondition(types map[string]condition.FieldType, c condition.Condition) error {
	ft, ok := lookupField(types, c.Field)
	if !ok && c.Type == "" {
		return errors.Newf("%w %q", ErrUnknownField, c.Field).
			Component("ruleset").
			Category(errors.CategoryConfiguration).
			Context("field", c.Field).
			Build()
	}
	return condition.Validate(c, ft)
}

func duplicate(seen map[string]bool, kind, id string) error {
	if seen[id] {
		return errors.Newf("duplicate %s id %q", kind, id).
			Component("ruleset").
			Category(errors.CategoryConfiguration).
			Build()
	}
	seen[id] = true
	return nil
}
