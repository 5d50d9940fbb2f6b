package types

import (
	"time"
)

// Command is an actuation command sent back to a device.
// Serialized on the wire as the literal tokens "on" / "off".
type Command string

const (
	CommandOn  Command = "on"
	CommandOff Command = "off"

	// CommandNone is the zero value: no command has been decided yet.
	// The debouncer treats it as "never sent", so the first real
	// decision is always published.
	CommandNone Command = ""
)

// Mode is a per-device operating mode.
type Mode string

const (
	// ModeDetect gates actuation on classifier-confirmed presence of the
	// device's target label.
	ModeDetect Mode = "detect"

	// ModeProximity gates actuation purely on the distance threshold.
	// No classifier call is ever made in this mode.
	ModeProximity Mode = "proximity"
)

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == ModeProximity {
		return ModeDetect
	}
	return ModeProximity
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeDetect || m == ModeProximity
}

// Frame is an encoded camera frame.
//
// Immutability contract: Data MUST NOT be modified after the frame
// enters the dispatcher. Frames are shared by reference between the
// admission queue, the worker, the classifier, the frame store and the
// snapshot store; nobody copies.
type Frame struct {
	// Data contains the encoded image bytes (JPEG as produced by the
	// capture devices).
	Data []byte

	// Width and Height in pixels, taken from the decoded image header.
	Width  int
	Height int

	// Timestamp is when the frame was received from the bus.
	Timestamp time.Time
}

// DeviceEvent is one ingested, already-validated telemetry message.
//
// Optional fields are pointers: nil means the device did not report
// that reading. An event with no frame, no distance and no move state
// is malformed and never reaches a worker.
type DeviceEvent struct {
	DeviceID string

	// Frame is present only for camera-bearing devices.
	Frame *Frame

	// Distance is the proximity reading in centimeters.
	Distance *int

	// MoveState is true while the device's own actuator is physically
	// moving.
	MoveState *bool

	// Speed is informational, display-only.
	Speed *float64

	// Seq is a per-process ingress sequence number, assigned at decode.
	Seq uint64

	ReceivedAt time.Time
}

// IsCam reports whether this event came from a camera-bearing device.
func (e *DeviceEvent) IsCam() bool {
	return e.Frame != nil
}

// Detection is one labeled hit returned by the classifier.
type Detection struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	// Box is [x1, y1, x2, y2] in frame pixels.
	Box [4]int `json:"box"`
}

// Snapshot is the most recently committed per-device state, for
// read-only consumption by external displays and monitors.
//
// Snapshots are stored and returned by value; Detections and Frame are
// shared read-only per the frame immutability contract.
type Snapshot struct {
	DeviceID string `json:"device_id"`

	// Frame is the last received frame (nil for sensor-only devices).
	Frame *Frame `json:"-"`

	Distance  *int     `json:"distance,omitempty"`
	MoveState *bool    `json:"move_state,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`

	// Detections from the last classifier run. Empty (non-nil) when the
	// cycle skipped or failed classification; nil when the device has
	// never been classified.
	Detections []Detection `json:"detections"`

	Mode        Mode    `json:"mode,omitempty"`
	LastCommand Command `json:"last_command,omitempty"`

	// InferenceMS is the duration of the last classifier call.
	InferenceMS float64 `json:"inference_ms,omitempty"`

	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}
