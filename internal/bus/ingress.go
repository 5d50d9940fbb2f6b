package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// EventSink receives validated events. Must never block: the dispatcher
// admits with drop-oldest semantics, so handing an event off is O(1).
type EventSink func(*types.DeviceEvent)

// Ingress subscribes to the device frame topics, decodes and validates
// payloads, and hands admitted events to the sink. Malformed messages
// are counted and dropped here; they never reach a worker.
type Ingress struct {
	client *Client
	sink   EventSink

	seq       atomic.Uint64
	received  atomic.Uint64
	malformed atomic.Uint64
}

// NewIngress creates an ingress feeding sink.
func NewIngress(client *Client, sink EventSink) *Ingress {
	return &Ingress{client: client, sink: sink}
}

// Start subscribes to the frame topic filter.
func (i *Ingress) Start() error {
	topic := i.client.cfg.Topics.Frames
	qos := i.client.qos("frames")

	slog.Info("subscribing to device telemetry", "topic", topic, "qos", qos)

	token := i.client.MQTT().Subscribe(topic, qos, i.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("telemetry subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry subscription failed: %w", err)
	}
	return nil
}

// Stop unsubscribes from the frame topics.
func (i *Ingress) Stop() {
	if i.client.MQTT().IsConnected() {
		token := i.client.MQTT().Unsubscribe(i.client.cfg.Topics.Frames)
		token.WaitTimeout(2 * time.Second)
	}
}

// onMessage decodes one inbound bus message. The device id is the last
// topic level: camera/frame/{device_id}.
func (i *Ingress) onMessage(_ mqtt.Client, msg mqtt.Message) {
	i.received.Add(1)

	parts := strings.Split(msg.Topic(), "/")
	if len(parts) != 3 {
		i.malformed.Add(1)
		slog.Debug("ignoring message on unexpected topic", "topic", msg.Topic())
		return
	}
	deviceID := parts[2]

	ev, err := DecodeEvent(deviceID, msg.Payload(), time.Now())
	if err != nil {
		i.malformed.Add(1)
		slog.Warn("rejected inbound event",
			"device_id", deviceID,
			"error", err,
		)
		return
	}

	ev.Seq = i.seq.Add(1)
	i.sink(ev)
}

// Stats returns ingress counters.
func (i *Ingress) Stats() IngressStats {
	return IngressStats{
		Received:  i.received.Load(),
		Malformed: i.malformed.Load(),
	}
}

// IngressStats contains ingress counters.
type IngressStats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
}
