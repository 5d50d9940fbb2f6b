package types

import "context"

// Classifier runs object classification on an encoded frame.
//
// Implementations may be slow; the caller is a single device worker and
// is allowed to block on the call. Classify must be safe for concurrent
// use from multiple workers.
type Classifier interface {
	// Classify returns the detections found in frame with confidence at
	// or above conf, in the order the model produced them.
	Classify(ctx context.Context, frame *Frame, conf float64) ([]Detection, error)
}

// FrameStore persists frames to durable storage under a policy key
// (classifier label in detect mode, the literal "proximity" in
// proximity mode).
type FrameStore interface {
	// Save persists the frame and returns the stored filename.
	Save(deviceID, key string, frame *Frame) (string, error)

	// SaveScored persists the frame with the detection score embedded in
	// the filename and returns the stored filename.
	SaveScored(deviceID, key string, frame *Frame, score float64) (string, error)
}

// CommandPublisher publishes outgoing actuation commands onto the bus.
type CommandPublisher interface {
	PublishCommand(deviceID string, cmd Command) error
}
