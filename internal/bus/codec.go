package bus

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	// Frame payloads are JPEG from the capture devices; PNG is accepted
	// for tooling that replays saved frames.
	_ "image/jpeg"
	_ "image/png"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// ErrMalformedEvent marks an inbound message rejected at ingress
// (missing every telemetry field, or an undecodable image). Malformed
// events are counted and dropped; they never reach a worker.
var ErrMalformedEvent = errors.New("malformed event")

// envelope is the wire format published by the capture devices on
// camera/frame/{device_id}: JSON with a base64-encoded JPEG frame for
// camera devices, or move_state/current_speed for sensor-only devices.
type envelope struct {
	Frame        string   `json:"frame,omitempty"`
	Distance     *int     `json:"distance,omitempty"`
	MoveState    *bool    `json:"move_state,omitempty"`
	CurrentSpeed *float64 `json:"current_speed,omitempty"`
}

// DecodeEvent parses and validates one inbound payload into a
// DeviceEvent. Returns an error wrapping ErrMalformedEvent when the
// payload must be rejected.
func DecodeEvent(deviceID string, payload []byte, receivedAt time.Time) (*types.DeviceEvent, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrMalformedEvent)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedEvent, err)
	}

	if env.Frame == "" && env.Distance == nil && env.MoveState == nil {
		return nil, fmt.Errorf("%w: no frame, distance or move_state", ErrMalformedEvent)
	}

	ev := &types.DeviceEvent{
		DeviceID:   deviceID,
		Distance:   env.Distance,
		MoveState:  env.MoveState,
		Speed:      env.CurrentSpeed,
		ReceivedAt: receivedAt,
	}

	if env.Frame != "" {
		raw, err := base64.StdEncoding.DecodeString(env.Frame)
		if err != nil {
			return nil, fmt.Errorf("%w: frame is not valid base64: %v", ErrMalformedEvent, err)
		}
		// Full decode: an image that does not decode to a raster must
		// never be admitted, a header check alone passes truncated data.
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: frame does not decode: %v", ErrMalformedEvent, err)
		}
		bounds := img.Bounds()
		ev.Frame = &types.Frame{
			Data:      raw,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
			Timestamp: receivedAt,
		}
	}

	return ev, nil
}
