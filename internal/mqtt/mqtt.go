// Package mqtt publishes examination lifecycle events to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/dermascan/dermascan/internal/conf"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends a payload to a topic below the configured base topic.
	Publish(ctx context.Context, subtopic string, payload []byte) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // base topic, events go to Topic/<event>
	QoS      byte
	Retain   bool

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// Metrics receives connection and publish observations.
type Metrics interface {
	UpdateConnectionStatus(connected bool)
	RecordPublish(size int, seconds float64, err error)
}

const (
	defaultTopic             = "dermascan"
	defaultConnectTimeout    = 30 * time.Second
	defaultPublishTimeout    = 10 * time.Second
	defaultDisconnectTimeout = 250 * time.Millisecond
)

// ConfigFromSettings maps application settings onto a client config.
func ConfigFromSettings(settings *conf.Settings) Config {
	clientID := settings.MQTT.ClientID
	if clientID == "" {
		clientID = settings.Main.Name
	}
	return Config{
		Broker:   settings.MQTT.Broker,
		ClientID: clientID,
		Username: settings.MQTT.Username,
		Password: settings.MQTT.Password,
		Topic:    settings.MQTT.Topic,
		QoS:      settings.MQTT.QoS,
		Retain:   settings.MQTT.Retain,
	}
}

func (c *Config) applyDefaults() {
	if c.Topic == "" {
		c.Topic = defaultTopic
	}
	if c.QoS > 2 {
		c.QoS = 0
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = defaultDisconnectTimeout
	}
}
