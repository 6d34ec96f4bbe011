//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mosquittoImage  = "eclipse-mosquitto:2.0"
	mosquittoConf   = "/mosquitto-anon.conf"
	startupTimeout  = 30 * time.Second
	clientTimeout   = 10 * time.Second
	disconnectQuiet = 250
)

// Mosquitto is a running broker that accepts anonymous clients.
type Mosquitto struct {
	container  testcontainers.Container
	brokerURL  string
	configFile string
}

// StartMosquitto starts a broker and registers its termination with t.
func StartMosquitto(ctx context.Context, t *testing.T) *Mosquitto {
	t.Helper()
	m, err := NewMosquitto(ctx)
	if err != nil {
		t.Fatalf("start mosquitto: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Terminate(context.Background()); err != nil {
			t.Logf("terminate mosquitto: %v", err)
		}
	})
	return m
}

// NewMosquitto starts a broker. Callers must Terminate it.
func NewMosquitto(ctx context.Context) (*Mosquitto, error) {
	configFile, err := writeAnonymousConfig()
	if err != nil {
		return nil, err
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mosquittoImage,
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", mosquittoConf},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      configFile,
				ContainerFilePath: mosquittoConf,
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		_ = os.Remove(configFile)
		return nil, fmt.Errorf("start mosquitto container: %w", err)
	}

	m := &Mosquitto{container: container, configFile: configFile}
	host, err := container.Host(ctx)
	if err != nil {
		_ = m.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = m.Terminate(ctx)
		return nil, fmt.Errorf("mapped port: %w", err)
	}
	m.brokerURL = "tcp://" + net.JoinHostPort(host, strconv.Itoa(port.Int()))
	return m, nil
}

func writeAnonymousConfig() (string, error) {
	f, err := os.CreateTemp("", "mosquitto-*.conf")
	if err != nil {
		return "", fmt.Errorf("create mosquitto config: %w", err)
	}
	_, werr := f.WriteString("listener 1883\nallow_anonymous true\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write mosquitto config: %w", errors.Join(werr, cerr))
	}
	return f.Name(), nil
}

// BrokerURL returns the tcp:// address of the broker.
func (m *Mosquitto) BrokerURL() string { return m.brokerURL }

// Client connects a plain paho client to the broker. It is disconnected
// when t ends.
func (m *Mosquitto) Client(t *testing.T, clientID string) paho.Client {
	t.Helper()
	opts := paho.NewClientOptions().
		AddBroker(m.brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(clientTimeout).
		SetAutoReconnect(false)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(clientTimeout) {
		t.Fatalf("connect %s: timeout", clientID)
	}
	if err := token.Error(); err != nil {
		t.Fatalf("connect %s: %v", clientID, err)
	}
	t.Cleanup(func() { client.Disconnect(disconnectQuiet) })
	return client
}

// Terminate stops the container and removes its config file.
func (m *Mosquitto) Terminate(ctx context.Context) error {
	var err error
	if m.container != nil {
		err = m.container.Terminate(ctx)
	}
	if m.configFile != "" {
		_ = os.Remove(m.configFile)
	}
	return err
}
