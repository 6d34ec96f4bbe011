// Package mqtt ingests service desk events published to an MQTT broker
// and hands them to the routing engine's event bus.
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/deskops/itsm-engine/internal/alerting"
	"github.com/deskops/itsm-engine/internal/condition"
	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/errors"
	"github.com/deskops/itsm-engine/internal/logger"
	"github.com/deskops/itsm-engine/internal/observability/metrics"
)

const (
	source            = "mqtt"
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Ingest results reported to metrics.
const (
	resultAccepted = "accepted"
	resultInvalid  = "invalid"
	resultDropped  = "dropped"
)

// ErrInvalidMessage is wrapped by Decode errors.
var ErrInvalidMessage = errors.NewStd("invalid event message")

// Message is the wire form of an event. The event name may be left out
// when the topic ends with it, e.g. itsm/events/incident.created.
type Message struct {
	Event     string           `json:"event"`
	Record    condition.Record `json:"record"`
	Timestamp time.Time        `json:"timestamp"`
}

// Decode turns a broker message into an event. A missing timestamp is
// set to now.
func Decode(topic string, payload []byte, now time.Time) (*alerting.Event, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalid(topic, "malformed json: %v", err)
	}
	name := msg.Event
	if name == "" {
		if i := strings.LastIndexByte(topic, '/'); i >= 0 {
			name = topic[i+1:]
		} else {
			name = topic
		}
	}
	if name == "" || strings.ContainsAny(name, "+#") {
		return nil, invalid(topic, "no event name")
	}
	if len(msg.Record) == 0 {
		return nil, invalid(topic, "record is required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	return &alerting.Event{Name: name, Record: msg.Record, Timestamp: msg.Timestamp}, nil
}

func invalid(topic, format string, args ...any) error {
	return errors.Newf("%w: "+format, append([]any{ErrInvalidMessage}, args...)...).
		Component("mqtt").
		Category(errors.CategoryValidation).
		Context("topic", topic).
		Build()
}

// Ingestor subscribes to the configured topic and publishes every valid
// message as an event.
type Ingestor struct {
	settings conf.MQTTSettings
	publish  func(*alerting.Event) bool
	metrics  *metrics.Metrics
	log      logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	client paho.Client
}

// NewIngestor validates the settings and creates an ingestor. publish is
// usually EventBus.Publish.
func NewIngestor(settings conf.MQTTSettings, publish func(*alerting.Event) bool, m *metrics.Metrics, log logger.Logger) (*Ingestor, error) {
	if settings.Broker == "" || settings.Topic == "" {
		return nil, errors.Newf("mqtt broker and topic are required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", settings.Broker).
			Context("topic", settings.Topic).
			Build()
	}
	if publish == nil {
		publish = alerting.TryPublish
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Ingestor{
		settings: settings,
		publish:  publish,
		metrics:  m,
		log:      log.With(logger.Component("mqtt")),
		now:      time.Now,
	}, nil
}

// Start connects to the broker. The subscription is renewed on every
// reconnect. It returns when the first connection succeeds or ctx ends.
func (in *Ingestor) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(in.settings.Broker).
		SetClientID(in.settings.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(in.subscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			in.log.Warn("mqtt connection lost", logger.Error(err))
		})
	if in.settings.Username != "" {
		opts.SetUsername(in.settings.Username)
		opts.SetPassword(in.settings.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", in.settings.Broker).
			Build()
	}

	in.mu.Lock()
	in.client = client
	in.mu.Unlock()
	in.log.Info("mqtt ingestion started",
		logger.String("broker", in.settings.Broker),
		logger.String("topic", in.settings.Topic))
	return nil
}

func (in *Ingestor) subscribe(c paho.Client) {
	token := c.Subscribe(in.settings.Topic, byte(in.settings.QoS), in.handle)
	if !token.WaitTimeout(connectTimeout) {
		in.log.Error("mqtt subscribe timed out", logger.String("topic", in.settings.Topic))
		return
	}
	if err := token.Error(); err != nil {
		in.log.Error("mqtt subscribe failed",
			logger.String("topic", in.settings.Topic),
			logger.Error(err))
	}
}

func (in *Ingestor) handle(_ paho.Client, msg paho.Message) {
	in.Ingest(msg.Topic(), msg.Payload())
}

// Ingest decodes one message and publishes it. It reports whether the
// event was queued.
func (in *Ingestor) Ingest(topic string, payload []byte) bool {
	event, err := Decode(topic, payload, in.now())
	if err != nil {
		in.metrics.RecordIngest(source, resultInvalid)
		in.log.Warn("mqtt message rejected",
			logger.String("topic", topic),
			logger.Error(err))
		return false
	}
	if !in.publish(event) {
		in.metrics.RecordIngest(source, resultDropped)
		in.log.Warn("mqtt event dropped",
			logger.String("event", event.Name),
			logger.String("entity_id", event.EntityID()))
		return false
	}
	in.metrics.RecordIngest(source, resultAccepted)
	in.log.Debug("mqtt event queued",
		logger.String("event", event.Name),
		logger.String("entity_id", event.EntityID()))
	return true
}

// Stop disconnects from the broker.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	client := in.client
	in.client = nil
	in.mu.Unlock()
	if client != nil {
		client.Disconnect(disconnectQuiesce)
		in.log.Info("mqtt ingestion stopped")
	}
}
