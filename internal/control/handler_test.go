package control

import (
	"testing"
)

type recordedMessage struct {
	payload []byte
}

func (m *recordedMessage) Duplicate() bool   { return false }
func (m *recordedMessage) Qos() byte         { return 1 }
func (m *recordedMessage) Retained() bool    { return false }
func (m *recordedMessage) Topic() string     { return "sorter/control/test" }
func (m *recordedMessage) MessageID() uint16 { return 1 }
func (m *recordedMessage) Payload() []byte   { return m.payload }
func (m *recordedMessage) Ack()              {}

// A broker delivery can still arrive after Stop (unsubscribe is not a
// barrier). It must be silently dropped, never enqueued.
func TestLateDeliveryAfterStopDropped(t *testing.T) {
	h := &Handler{commands: make(chan Command, 10)}

	h.onMessage(nil, &recordedMessage{payload: []byte(`{"command":"get_status"}`)})
	if got := len(h.commands); got != 1 {
		t.Fatalf("queued %d commands before stop, want 1", got)
	}

	h.stopped.Store(true)
	h.onMessage(nil, &recordedMessage{payload: []byte(`{"command":"get_status"}`)})
	if got := len(h.commands); got != 1 {
		t.Errorf("queued %d commands after stop, want the pre-stop 1 only", got)
	}
}

// A full command queue drops rather than blocks the paho delivery
// goroutine.
func TestFullQueueDropsCommand(t *testing.T) {
	h := &Handler{commands: make(chan Command, 1)}

	h.onMessage(nil, &recordedMessage{payload: []byte(`{"command":"get_status"}`)})
	h.onMessage(nil, &recordedMessage{payload: []byte(`{"command":"toggle_mode","device_id":"raspi-cam-01"}`)})

	if got := len(h.commands); got != 1 {
		t.Fatalf("queue holds %d commands, want capacity 1", got)
	}
	cmd := <-h.commands
	if cmd.Command != "get_status" {
		t.Errorf("surviving command = %q, want the first one", cmd.Command)
	}
}
