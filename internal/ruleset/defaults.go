package ruleset

import (
	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/routing"
	"github.com/deskops/itsm-engine/internal/schedule"
	"github.com/deskops/itsm-engine/internal/sla"
)

// Event names published by the record layer and the SLA monitor.
const (
	EventIncidentCreated   = "incident.created"
	EventIncidentUpdated   = "incident.updated"
	EventTicketCreated     = "ticket.created"
	EventSecurityCaseOpen  = "security_case.created"
	EventSLAWarning        = "sla.warning"
	EventSLABreached       = "sla.breached"
	EventChangeScheduled   = "change.scheduled"
	EventProblemIdentified = "problem.identified"
)

// Events lists the known event names.
func Events() []string {
	return []string{
		EventIncidentCreated, EventIncidentUpdated, EventTicketCreated,
		EventSecurityCaseOpen, EventSLAWarning, EventSLABreached,
		EventChangeScheduled, EventProblemIdentified,
	}
}

// Built-in IDs are stable so seeded rules can be toggled by ID.
const (
	GroupCriticalIncidents = "critical-incidents"
	GroupSecurityCases     = "security-cases"
	GroupVIPRequests       = "vip-requests"

	ScheduleBusinessHours = "business-hours"

	ChannelServiceDeskEmail = "servicedesk-email"
	ChannelOnCallSMS        = "oncall-sms"
	ChannelOpsSlack         = "ops-slack"
	ChannelSecurityTeams    = "security-teams"
	ChannelOnCallPush       = "oncall-push"
	ChannelBell             = "bell"
)

// DefaultRules returns the built-in routing rules that ship with the
// engine. They are seeded on first start and can be restored with
// reset-defaults.
func DefaultRules() []routing.Rule {
	return []routing.Rule{
		{
			ID:                "security-p1",
			Name:              "Security cases to security team",
			Description:       "Routes high priority security cases to the security channel",
			Enabled:           true,
			BuiltIn:           true,
			Priority:          1,
			GroupIDs:          []string{GroupSecurityCases},
			Events:            []string{EventSecurityCaseOpen, EventSLABreached},
			TargetChannelID:   ChannelSecurityTeams,
			FallbackChannelID: ChannelOnCallSMS,
			CooldownSec:       60,
		},
		{
			ID:                "critical-incidents",
			Name:              "Critical incidents page on-call",
			Description:       "Pages on-call for critical incidents outside business hours",
			Enabled:           true,
			BuiltIn:           true,
			Priority:          2,
			GroupIDs:          []string{GroupCriticalIncidents},
			Events:            []string{EventIncidentCreated, EventIncidentUpdated},
			ScheduleID:        ScheduleBusinessHours,
			TargetChannelID:   ChannelOnCallPush,
			FallbackChannelID: ChannelOnCallSMS,
			CooldownSec:       300,
		},
		{
			ID:              "vip-requests",
			Name:            "VIP requests to service desk Slack",
			Description:     "Notifies the service desk when a VIP raises a request",
			Enabled:         true,
			BuiltIn:         true,
			Priority:        5,
			GroupIDs:        []string{GroupVIPRequests},
			Events:          []string{EventTicketCreated},
			TargetChannelID: ChannelOpsSlack,
			CooldownSec:     60,
		},
		{
			ID:          "sla-warnings",
			Name:        "SLA warnings",
			Description: "Notifies the service desk when an SLA is about to breach",
			Enabled:     true,
			BuiltIn:     true,
			Priority:    10,
			Events:      []string{EventSLAWarning},
			Conditions: []condition.Condition{
				{Field: "sla_percent_left", Type: condition.FieldNumber, Operator: condition.OperatorLessThan, Value: 25.0},
			},
			TargetChannelID:   ChannelOpsSlack,
			FallbackChannelID: ChannelServiceDeskEmail,
			CooldownSec:       900,
		},
		{
			ID:              "catch-all",
			Name:            "Everything else",
			Description:     "Default route to the in-app notification bell",
			Enabled:         true,
			BuiltIn:         true,
			Priority:        100,
			TargetChannelID: ChannelBell,
			CooldownSec:     0,
		},
	}
}

// DefaultGroups returns the built-in condition groups.
func DefaultGroups() []condition.Group {
	return []condition.Group{
		{
			ID:          GroupCriticalIncidents,
			Name:        "Critical incidents",
			Description: "Incidents with critical or high priority",
			Conditions: []condition.Condition{
				{Field: "kind", Operator: condition.OperatorEquals, Value: "Incident"},
				{Field: "priority", Operator: condition.OperatorIn, Value: []any{"Critical", "High", "P1"}},
			},
		},
		{
			ID:          GroupSecurityCases,
			Name:        "Security cases",
			Description: "Open security cases with high priority",
			Conditions: []condition.Condition{
				{Field: "kind", Operator: condition.OperatorEquals, Value: "SecurityCase"},
				{Field: "priority", Operator: condition.OperatorIn, Value: []any{"Critical", "High", "P1", "P2"}},
			},
		},
		{
			ID:          GroupVIPRequests,
			Name:        "VIP requests",
			Description: "Requests raised by VIP users",
			Conditions: []condition.Condition{
				{Field: "requester_vip", Operator: condition.OperatorEquals, Value: true},
			},
		},
	}
}

// DefaultSchedules returns the built-in business-hours schedule.
func DefaultSchedules() []schedule.Rule {
	return []schedule.Rule{
		{
			ID:          ScheduleBusinessHours,
			Name:        "Business hours",
			Description: "Weekdays 09:00-17:00 go to Slack, otherwise page on-call",
			Timezone:    "UTC",
			TimeWindows: []schedule.TimeWindow{
				{StartTime: "09:00", EndTime: "17:00", DaysOfWeek: []int{1, 2, 3, 4, 5}},
			},
			Channels: schedule.Channels{InWindow: ChannelOpsSlack, OutOfWindow: ChannelOnCallPush},
			Enabled:  true,
		},
	}
}

// DefaultChannels returns the built-in simulated channels.
func DefaultChannels() []channel.Channel {
	return []channel.Channel{
		{ID: ChannelServiceDeskEmail, Name: "Service desk email", Kind: channel.KindEmail, Enabled: true, Healthy: true,
			TemplateTitle:   "[{{priority}}] {{title}}",
			TemplateMessage: "<p>Rule <b>{{rule_name}}</b> fired for {{kind}} {{id}} on {{event_name}}.</p>"},
		{ID: ChannelOnCallSMS, Name: "On-call SMS", Kind: channel.KindSMS, Enabled: true, Healthy: true,
			TemplateMessage: "<p>{{priority}} {{kind}} {{id}}: {{title}}</p>"},
		{ID: ChannelOpsSlack, Name: "Operations Slack", Kind: channel.KindSlack, Enabled: true, Healthy: true},
		{ID: ChannelSecurityTeams, Name: "Security Teams", Kind: channel.KindTeams, Enabled: true, Healthy: true},
		{ID: ChannelOnCallPush, Name: "On-call push", Kind: channel.KindPush, URL: "ntfy://ntfy.sh/itsm-oncall",
			Enabled: true, Healthy: true},
		{ID: ChannelBell, Name: "Notification bell", Kind: channel.KindBell, Enabled: true, Healthy: true},
	}
}

// DefaultDocument assembles the built-in rule document.
func DefaultDocument() *Document {
	return &Document{
		Groups:     DefaultGroups(),
		Routing:    DefaultRules(),
		Schedules:  DefaultSchedules(),
		Channels:   DefaultChannels(),
		SLATargets: sla.DefaultTargets(),
	}
}
