package alerting

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/deskops/itsm-engine/internal/channel"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/notification"
	"github.com/deskops/itsm-engine/internal/observability/metrics"
	"github.com/deskops/itsm-engine/internal/routing"
)

// ErrOutboxUnavailable is returned when no outbox has been initialized.
var ErrOutboxUnavailable = errors.NewStd("notification outbox not initialized")

// Outbox abstracts the notification service for testability. A returned
// message with an empty ID means nothing was stored.
type Outbox interface {
	Send(msg notification.Message) notification.Message
}

// serviceOutbox lazily resolves the global notification service so the
// alerting and notification subsystems have no initialization order.
type serviceOutbox struct{}

func (serviceOutbox) Send(msg notification.Message) notification.Message {
	svc := notification.GetService()
	if svc == nil {
		return notification.Message{}
	}
	return svc.Send(msg)
}

// Dispatcher renders and delivers a notification for a routing match.
type Dispatcher struct {
	channels *channel.Registry
	outbox   Outbox
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewDispatcher creates a dispatcher. A nil outbox uses the global
// notification service and a nil log discards output.
func NewDispatcher(channels *channel.Registry, outbox Outbox, m *metrics.Metrics, log logger.Logger) *Dispatcher {
	if outbox == nil {
		outbox = serviceOutbox{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{channels: channels, outbox: outbox, metrics: m, log: log}
}

// Dispatch implements DispatchFunc and returns the outbox message ID.
func (d *Dispatcher) Dispatch(rule *routing.Rule, match routing.Match, event *Event) (string, error) {
	ch, ok := d.channels.Get(match.ChannelID)
	if !ok {
		return "", errors.Newf("%w: %s", channel.ErrChannelNotFound, match.ChannelID).
			Component("alerting").
			Category(errors.CategoryNotFound).
			Context("rule_id", rule.ID).
			Build()
	}

	vars := templateVars(rule, &ch, event)
	title, body := channel.Compose(&ch, vars, defaultTitle(rule, event), defaultBody(rule, event))

	msg := d.outbox.Send(notification.Message{
		ChannelID: ch.ID,
		Kind:      ch.Kind,
		RuleID:    rule.ID,
		EventName: event.Name,
		Title:     title,
		Body:      body,
		Fallback:  match.Fallback,
	})
	if msg.ID == "" {
		return "", ErrOutboxUnavailable
	}

	d.metrics.RecordDispatch(string(ch.Kind), match.Fallback)
	d.log.Info("notification dispatched",
		logger.String("rule_id", rule.ID),
		logger.String("channel_id", ch.ID),
		logger.String("kind", string(ch.Kind)),
		logger.Bool("fallback", match.Fallback),
		logger.Bool("degraded", match.Degraded))
	return msg.ID, nil
}

// templateVars exposes rule, channel and event names plus every scalar
// top-level record field.
func templateVars(rule *routing.Rule, ch *channel.Channel, event *Event) map[string]string {
	vars := map[string]string{
		"rule_id":      rule.ID,
		"rule_name":    rule.Name,
		"event_name":   event.Name,
		"channel_name": ch.Name,
	}
	for _, k := range slices.Sorted(maps.Keys(event.Record)) {
		switch v := event.Record[k].(type) {
		case nil, map[string]any:
		case []any:
			parts := make([]string, len(v))
			for i, p := range v {
				parts[i] = fmt.Sprint(p)
			}
			vars[k] = strings.Join(parts, ", ")
		default:
			vars[k] = fmt.Sprint(v)
		}
	}
	return vars
}

func defaultTitle(rule *routing.Rule, event *Event) string {
	if title, ok := event.Record["title"].(string); ok && title != "" {
		return fmt.Sprintf("[%s] %s", event.Name, title)
	}
	return fmt.Sprintf("[%s] %s", event.Name, rule.Name)
}

func defaultBody(rule *routing.Rule, event *Event) string {
	if id := event.EntityID(); id != "" {
		return fmt.Sprintf("%s matched rule %q.", id, rule.Name)
	}
	return fmt.Sprintf("Event matched rule %q.", rule.Name)
}
