// Package bus adapts the MQTT message bus: it ingests device telemetry
// from the frame topics and publishes actuation commands back to the
// devices. Exact broker deployment is outside this package; it speaks
// plain MQTT 3.1.1 via paho.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/songseungho-v/ai-clothes-sorter/internal/config"
)

// Client owns the single MQTT connection shared by ingress, command
// emitter and control plane.
type Client struct {
	cfg  *config.MQTTConfig
	mqtt mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// NewClient creates an unconnected client.
func NewClient(cfg *config.MQTTConfig, instanceID string) *Client {
	c := &Client{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	// Random suffix so a restarted instance never fights its old
	// session for the client id.
	opts.SetClientID(fmt.Sprintf("%s-%s", instanceID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", cfg.Broker,
			"auto_reconnect", "enabled",
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
		)
	}

	c.mqtt = mqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection.
func (c *Client) Connect(ctx context.Context) error {
	slog.Info("connecting to mqtt broker", "broker", c.cfg.Broker)

	token := c.mqtt.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection with a short grace period.
func (c *Client) Disconnect() {
	if c.mqtt.IsConnected() {
		c.mqtt.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// MQTT exposes the underlying paho client for co-located subscribers
// (ingress, control plane).
func (c *Client) MQTT() mqtt.Client {
	return c.mqtt
}

// qos returns the configured QoS for a topic role, defaulting to 0.
func (c *Client) qos(role string) byte {
	if q, ok := c.cfg.QoS[role]; ok {
		return q
	}
	return 0
}
