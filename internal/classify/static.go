// Package classify provides Classifier implementations: a sidecar
// adapter that drives an external model process, and a static rule
// table for development and tests. The model itself is out of scope
// here: the dispatcher only needs a synchronous, possibly slow call
// that returns labeled detections.
package classify

import (
	"context"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// Static answers every frame with a fixed detection table, filtered by
// the requested confidence. Useful for wiring tests and for running the
// dispatcher without a model process.
type Static struct {
	detections []types.Detection
}

// NewStatic creates a static classifier returning the given detections.
func NewStatic(detections []types.Detection) *Static {
	return &Static{detections: detections}
}

// Classify implements types.Classifier.
func (s *Static) Classify(_ context.Context, _ *types.Frame, conf float64) ([]types.Detection, error) {
	out := make([]types.Detection, 0, len(s.detections))
	for _, det := range s.detections {
		if det.Score >= conf {
			out = append(out, det)
		}
	}
	return out, nil
}
