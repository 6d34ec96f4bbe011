//go:build integration

package mqtt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskops/itsm-engine/internal/alerting"
	"github.com/deskops/itsm-engine/internal/conf"
	"github.com/deskops/itsm-engine/internal/mqtt"
	"github.com/deskops/itsm-engine/internal/testutil/containers"
)

func TestIngestor_ReceivesBrokerEvents(t *testing.T) {
	broker := containers.StartMosquitto(t.Context(), t)

	events := make(chan *alerting.Event, 4)
	in, err := mqtt.NewIngestor(conf.MQTTSettings{
		Broker:   broker.BrokerURL(),
		Topic:    "itsm/events/#",
		ClientID: "itsm-ingest-test",
		QoS:      1,
	}, func(e *alerting.Event) bool {
		select {
		case events <- e:
			return true
		default:
			return false
		}
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, in.Start(t.Context()))
	t.Cleanup(in.Stop)

	publisher := broker.Client(t, "itsm-publisher")
	payload := []byte(`{"record":{"id":"INC-42","kind":"Incident","priority":"P1"}}`)

	// The subscription is made in the connect handler; retry until it is live.
	var got *alerting.Event
	require.Eventually(t, func() bool {
		token := publisher.Publish("itsm/events/incident.created", 1, false, payload)
		token.WaitTimeout(5 * time.Second)
		select {
		case got = <-events:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 15*time.Second, 100*time.Millisecond)

	assert.Equal(t, "incident.created", got.Name)
	assert.Equal(t, "INC-42", got.EntityID())
}
