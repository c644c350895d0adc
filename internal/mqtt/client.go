package mqtt

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

// ErrNotConnected is returned by Publish before Connect succeeds.
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// client implements the Client interface on paho.
type client struct {
	config         Config
	internalClient pahomqtt.Client
	metrics        Metrics
	logger         logger.Logger
	mu             sync.Mutex
}

// NewClient creates a new MQTT client. metrics may be nil.
func NewClient(cfg Config, metrics Metrics, log logger.Logger) (Client, error) {
	cfg.applyDefaults()

	u, err := url.Parse(cfg.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid broker URL %q", cfg.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &client{
		config:  cfg,
		metrics: metrics,
		logger:  log,
	}, nil
}

// Connect establishes the broker connection. paho handles reconnects afterwards.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		return nil
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = pahomqtt.NewClient(opts)

	token := c.internalClient.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return c.connectionError(ctx.Err(), "connect")
	case <-time.After(c.config.ConnectTimeout):
		return c.connectionError(errors.NewStd("connection timeout"), "connect")
	}
	if err := token.Error(); err != nil {
		return c.connectionError(err, "connect")
	}

	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	return nil
}

// Publish sends payload to Topic/subtopic.
func (c *client) Publish(ctx context.Context, subtopic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return errors.New(ErrNotConnected).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}

	topic := c.topic(subtopic)
	start := time.Now()
	token := c.internalClient.Publish(topic, c.config.QoS, c.config.Retain, payload)

	var err error
	select {
	case <-token.Done():
		err = token.Error()
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(c.config.PublishTimeout):
		err = errors.NewStd("publish timeout")
	}

	if c.metrics != nil {
		c.metrics.RecordPublish(len(payload), time.Since(start).Seconds(), err)
	}
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	c.logger.Debug("published event",
		logger.String("topic", topic),
		logger.Int("size", len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		if c.metrics != nil {
			c.metrics.UpdateConnectionStatus(false)
		}
	}
}

func (c *client) topic(subtopic string) string {
	base := strings.TrimRight(c.config.Topic, "/")
	subtopic = strings.Trim(subtopic, "/")
	if subtopic == "" {
		return base
	}
	return base + "/" + subtopic
}

func (c *client) onConnect(_ pahomqtt.Client) {
	c.logger.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
}

func (c *client) onConnectionLost(_ pahomqtt.Client, err error) {
	c.logger.Warn("connection to MQTT broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
	}
}

func (c *client) connectionError(err error, operation string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTTConnection).
		Context("operation", operation).
		Context("broker", c.config.Broker).
		Build()
}
