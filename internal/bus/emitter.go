package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// Emitter publishes actuation commands to image/command/{device_id}.
// The payload is the literal command token ("on" / "off").
//
// Implements types.CommandPublisher.
type Emitter struct {
	client *Client

	// aliases rewrites the device id on the command topic when the
	// capture device and the actuator are distinct endpoints.
	aliases map[string]string

	mu        sync.Mutex
	published map[string]uint64 // count per device
	errors    uint64
}

// NewEmitter creates a command emitter. aliases may be nil.
func NewEmitter(client *Client, aliases map[string]string) *Emitter {
	return &Emitter{
		client:    client,
		aliases:   aliases,
		published: make(map[string]uint64),
	}
}

// PublishCommand sends cmd to the device's command topic. An error here
// is surfaced to the debouncer, which leaves its state unadvanced so
// the next decision cycle retries.
func (e *Emitter) PublishCommand(deviceID string, cmd types.Command) error {
	if !e.client.IsConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	target := deviceID
	if alias, ok := e.aliases[deviceID]; ok {
		target = alias
	}
	topic := fmt.Sprintf("%s/%s", e.client.cfg.Topics.Commands, target)

	token := e.client.MQTT().Publish(topic, e.client.qos("commands"), false, string(cmd))
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed on %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[deviceID]++
	e.mu.Unlock()
	return nil
}

// PublishHealth publishes a health payload on the health topic.
func (e *Emitter) PublishHealth(payload []byte) error {
	if !e.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := e.client.MQTT().Publish(e.client.cfg.Topics.Health, e.client.qos("health"), false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("health publish timeout")
	}
	return token.Error()
}

// Stats returns emitter counters.
func (e *Emitter) Stats() EmitterStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return EmitterStats{Published: published, Errors: e.errors}
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// EmitterStats contains emitter counters.
type EmitterStats struct {
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}
