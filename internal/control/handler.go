// Package control implements the operator command plane over MQTT:
// mode toggling, status and snapshot queries, remote shutdown. The
// triggering side (an operator console, a keypad bridge) only needs to
// publish small JSON commands to the control topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/songseungho-v/ai-clothes-sorter/internal/bus"
	"github.com/songseungho-v/ai-clothes-sorter/internal/config"
)

// Command is one control plane request.
type Command struct {
	Command  string `json:"command"`
	DeviceID string `json:"device_id,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// Response is the acknowledgment published back on the response topic.
type Response struct {
	CommandAck string         `json:"command_ack"`
	DeviceID   string         `json:"device_id,omitempty"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Callbacks connect control commands to the core.
type Callbacks struct {
	OnToggleMode  func(deviceID string) (string, error)
	OnSetMode     func(deviceID, mode string) error
	OnGetStatus   func() map[string]any
	OnGetSnapshot func(deviceID string) (map[string]any, error)
	OnShutdown    func() error
}

// Handler subscribes to the control topic and dispatches commands.
type Handler struct {
	cfg       *config.MQTTConfig
	client    *bus.Client
	callbacks Callbacks
	commands  chan Command

	// stopped gates onMessage: paho can still deliver a buffered
	// message after Unsubscribe returns, and that late delivery must
	// not reach the command channel once Stop has run.
	stopped atomic.Bool
}

// NewHandler creates a control handler sharing the bus connection.
func NewHandler(cfg *config.MQTTConfig, client *bus.Client, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}
}

// Start subscribes to the control topic and begins processing.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := byte(1)
	if q, ok := h.cfg.QoS["control"]; ok {
		qos = q
	}

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.MQTT().Subscribe(topic, qos, h.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and stops accepting commands. The channel is never
// closed: the processing goroutine exits on its context, and leaving
// the channel open keeps a late paho delivery from panicking a send.
func (h *Handler) Stop() {
	h.stopped.Store(true)
	if h.client.MQTT().IsConnected() {
		token := h.client.MQTT().Unsubscribe(h.cfg.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}
	slog.Info("control plane handler stopped")
}

func (h *Handler) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if h.stopped.Load() {
		return
	}

	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.respond(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	slog.Info("control command received", "command", cmd.Command, "device_id", cmd.DeviceID)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handle(cmd)
		}
	}
}

func (h *Handler) handle(cmd Command) {
	resp := Response{CommandAck: cmd.Command, DeviceID: cmd.DeviceID, Status: "ok"}

	switch cmd.Command {
	case "toggle_mode":
		mode, err := h.callbacks.OnToggleMode(cmd.DeviceID)
		if err != nil {
			resp.Status, resp.Error = "error", err.Error()
			break
		}
		resp.Data = map[string]any{"mode": mode}

	case "set_mode":
		if err := h.callbacks.OnSetMode(cmd.DeviceID, cmd.Mode); err != nil {
			resp.Status, resp.Error = "error", err.Error()
			break
		}
		resp.Data = map[string]any{"mode": cmd.Mode}

	case "get_status":
		resp.Data = h.callbacks.OnGetStatus()

	case "get_snapshot":
		data, err := h.callbacks.OnGetSnapshot(cmd.DeviceID)
		if err != nil {
			resp.Status, resp.Error = "error", err.Error()
			break
		}
		resp.Data = data

	case "shutdown":
		if err := h.callbacks.OnShutdown(); err != nil {
			resp.Status, resp.Error = "error", err.Error()
		}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command %q", cmd.Command)
	}

	h.respond(resp)
}

func (h *Handler) respond(resp Response) {
	resp.Timestamp = time.Now().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal control response", "error", err)
		return
	}

	topic := h.cfg.Topics.Control + "/response"
	token := h.client.MQTT().Publish(topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("control response publish timeout", "topic", topic)
	}
}
