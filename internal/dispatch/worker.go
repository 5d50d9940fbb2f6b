package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// ProximityStoreKey is the frame store key used in proximity mode
// (detect mode keys by the matched label instead).
const ProximityStoreKey = "proximity"

// Policy holds the decision constants consulted on every cycle. One
// canonical set, injected from configuration, never hardcoded at the
// decision sites.
type Policy struct {
	// ProximityThresholdCM: command is on iff distance < threshold.
	ProximityThresholdCM int

	// Confidence is the floor passed to the classifier.
	Confidence float64

	// AcceptScore is the strict per-detection acceptance threshold: a
	// detection matches only when score > AcceptScore.
	AcceptScore float64

	// SaveInterval throttles frame persistence per device.
	SaveInterval time.Duration
}

// WorkerConfig wires one device worker.
type WorkerConfig struct {
	DeviceID string

	// TargetLabel is the label detect mode searches for. Empty means
	// the device never matches.
	TargetLabel string

	// InitialMode defaults to ModeDetect when unset.
	InitialMode types.Mode

	Queue      *EventQueue
	Classifier types.Classifier
	Store      types.FrameStore
	Debouncer  *Debouncer
	Snapshots  *SnapshotStore
	Policy     Policy

	// Now is the clock source; nil means time.Now.
	Now func() time.Time
}

// Worker is the long-lived per-device decision loop. It exclusively
// owns its device's queue consumption, save throttle and debouncer;
// only the mode field is written from outside, under workerMu.
type Worker struct {
	deviceID string
	target   string

	queue      *EventQueue
	classifier types.Classifier
	store      types.FrameStore
	debounce   *Debouncer
	snapshots  *SnapshotStore
	policy     Policy
	now        func() time.Time

	modeMu sync.Mutex
	mode   types.Mode

	lastSaveAt time.Time

	// lastActiveAt is read by the watchdog; nanoseconds since epoch.
	lastActive atomicTime
}

// NewWorker creates a worker. Run must be started by the caller
// (the registry does this exactly once per device).
func NewWorker(cfg WorkerConfig) *Worker {
	mode := cfg.InitialMode
	if !mode.Valid() {
		mode = types.ModeDetect
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	w := &Worker{
		deviceID:   cfg.DeviceID,
		target:     cfg.TargetLabel,
		queue:      cfg.Queue,
		classifier: cfg.Classifier,
		store:      cfg.Store,
		debounce:   cfg.Debouncer,
		snapshots:  cfg.Snapshots,
		policy:     cfg.Policy,
		now:        now,
		mode:       mode,
	}
	w.lastActive.Store(now())
	return w
}

// DeviceID returns the device this worker owns.
func (w *Worker) DeviceID() string {
	return w.deviceID
}

// Mode returns the current operating mode.
func (w *Worker) Mode() types.Mode {
	w.modeMu.Lock()
	defer w.modeMu.Unlock()
	return w.mode
}

// SetMode switches the operating mode. Takes effect no later than the
// worker's next decision cycle.
func (w *Worker) SetMode(mode types.Mode) {
	if !mode.Valid() {
		return
	}
	w.modeMu.Lock()
	w.mode = mode
	w.modeMu.Unlock()
}

// ToggleMode flips between detect and proximity and returns the new
// mode. Calling it twice returns to the original mode.
func (w *Worker) ToggleMode() types.Mode {
	w.modeMu.Lock()
	defer w.modeMu.Unlock()
	w.mode = w.mode.Toggle()
	return w.mode
}

// LastActiveAt returns the time of the last completed decision cycle
// (watchdog input).
func (w *Worker) LastActiveAt() time.Time {
	return w.lastActive.Load()
}

// Run consumes the admission queue until ctx is cancelled or the queue
// is closed. A failed cycle never terminates the loop: classification
// and persistence errors are logged and the decision defaults to no
// command change.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("device worker started",
		"device_id", w.deviceID,
		"mode", w.Mode(),
		"target", w.target,
		"queue_cap", w.queue.Cap(),
	)

	for {
		ev := w.queue.Dequeue()
		if ev == nil {
			slog.Info("device worker stopped", "device_id", w.deviceID)
			return
		}
		if ctx.Err() != nil {
			slog.Info("device worker stopped", "device_id", w.deviceID)
			return
		}

		w.process(ctx, ev)
		w.lastActive.Store(w.now())
	}
}

// process applies the mode-dependent decision policy to one event.
func (w *Worker) process(ctx context.Context, ev *types.DeviceEvent) {
	if !ev.IsCam() {
		// Sensor-only device: no command decision, snapshot only.
		w.commitSnapshot(ev, nil, 0)
		return
	}

	switch w.Mode() {
	case types.ModeProximity:
		w.processProximity(ev)
	default:
		w.processDetect(ctx, ev)
	}
}

// processProximity: command is on iff distance < threshold. Cheap by
// construction: the classifier is never consulted in this mode.
func (w *Worker) processProximity(ev *types.DeviceEvent) {
	now := w.now()

	cmd := types.CommandOff
	if ev.Distance != nil && *ev.Distance < w.policy.ProximityThresholdCM {
		cmd = types.CommandOn
	}

	if cmd == types.CommandOn && now.Sub(w.lastSaveAt) >= w.policy.SaveInterval {
		name, err := w.store.Save(w.deviceID, ProximityStoreKey, ev.Frame)
		if err != nil {
			// Persistence failure never blocks command publication.
			slog.Error("frame save failed",
				"device_id", w.deviceID,
				"key", ProximityStoreKey,
				"error", err,
			)
		} else {
			slog.Debug("frame saved", "device_id", w.deviceID, "file", name)
			w.lastSaveAt = now
		}
	}

	w.sendCommand(ev, cmd, false)
	w.commitSnapshot(ev, []types.Detection{}, 0)
}

// processDetect runs the classifier-gated policy. Classification is
// skipped entirely when the reading is out of range or the device's own
// actuator is already moving (wasted work either way).
func (w *Worker) processDetect(ctx context.Context, ev *types.DeviceEvent) {
	now := w.now()
	moving := ev.MoveState != nil && *ev.MoveState

	if ev.Distance == nil || *ev.Distance >= w.policy.ProximityThresholdCM || moving {
		// Decision is off without classifying. While the actuator is
		// still moving the off transition is a safety correction and
		// bypasses the cooldown.
		w.sendCommand(ev, types.CommandOff, moving)
		w.commitSnapshot(ev, []types.Detection{}, 0)
		return
	}

	start := w.now()
	detections, err := w.classifier.Classify(ctx, ev.Frame, w.policy.Confidence)
	inferenceMS := float64(w.now().Sub(start)) / float64(time.Millisecond)
	if err != nil {
		// Classifier failure: decision defaults to off, snapshot still
		// commits with empty detections, worker continues.
		slog.Error("classification failed",
			"device_id", w.deviceID,
			"seq", ev.Seq,
			"error", err,
		)
		w.sendCommand(ev, types.CommandOff, false)
		w.commitSnapshot(ev, []types.Detection{}, inferenceMS)
		return
	}

	cmd := types.CommandOff
	for _, det := range detections {
		// First-match semantics, deliberately not best-match.
		if det.Label != w.target || det.Score <= w.policy.AcceptScore {
			continue
		}
		cmd = types.CommandOn
		if now.Sub(w.lastSaveAt) >= w.policy.SaveInterval {
			name, saveErr := w.store.SaveScored(w.deviceID, det.Label, ev.Frame, det.Score)
			if saveErr != nil {
				slog.Error("frame save failed",
					"device_id", w.deviceID,
					"key", det.Label,
					"error", saveErr,
				)
			} else {
				slog.Debug("frame saved", "device_id", w.deviceID, "file", name)
				w.lastSaveAt = now
			}
		}
		break
	}

	w.sendCommand(ev, cmd, false)
	w.commitSnapshot(ev, detections, inferenceMS)
}

// sendCommand routes a decision through the debouncer. Publish errors
// are logged only: the debouncer leaves its state unadvanced so the
// next cycle retries.
func (w *Worker) sendCommand(ev *types.DeviceEvent, cmd types.Command, force bool) {
	sent, err := w.debounce.MaybeSend(w.deviceID, cmd, force)
	if err != nil {
		slog.Error("command publish failed",
			"device_id", w.deviceID,
			"command", cmd,
			"error", err,
		)
		return
	}
	if sent {
		slog.Info("command published",
			"device_id", w.deviceID,
			"command", cmd,
			"forced", force,
		)
	}
}

func (w *Worker) commitSnapshot(ev *types.DeviceEvent, detections []types.Detection, inferenceMS float64) {
	w.snapshots.Put(types.Snapshot{
		DeviceID:    w.deviceID,
		Frame:       ev.Frame,
		Distance:    ev.Distance,
		MoveState:   ev.MoveState,
		Speed:       ev.Speed,
		Detections:  detections,
		Mode:        w.Mode(),
		LastCommand: w.debounce.LastCommand(),
		InferenceMS: inferenceMS,
		Seq:         ev.Seq,
		UpdatedAt:   w.now(),
	})
}
