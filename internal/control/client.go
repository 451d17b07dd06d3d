package control

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// newClient builds the paho client; replaced in tests
var newClient = mqtt.NewClient

// ClientConfig contains broker connection settings
type ClientConfig struct {
	Broker   string // host:port or a full URL (tcp://, ssl://, ws://)
	ClientID string // empty = "preroll-valve-<uuid>"
	Username string
	Password string
}

// BrokerURL normalizes a broker address, adding tcp:// when no scheme is given.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes a connection to the MQTT broker with automatic
// reconnection enabled.
func Connect(cfg ClientConfig, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "preroll-valve-" + uuid.NewString()
	}
	broker := BrokerURL(cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("control: mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("control: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
			"max_retry_interval", "30s")
	}

	client := newClient(opts)

	logger.Info("control: connecting to mqtt broker", "broker", broker)

	// With ConnectRetry on, paho keeps retrying in the background until
	// Disconnect is called.
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// Disconnect closes the client with a short grace period.
func Disconnect(client mqtt.Client, logger *slog.Logger) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		if logger != nil {
			logger.Info("control: mqtt disconnected")
		}
	}
}
