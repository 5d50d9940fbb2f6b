// Package core wires the sorter service together: bus ingress into the
// per-device dispatch core, classifier and frame store into the device
// workers, and the operator surfaces (MQTT control plane, HTTP monitor)
// on top.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/bus"
	"github.com/songseungho-v/ai-clothes-sorter/internal/classify"
	"github.com/songseungho-v/ai-clothes-sorter/internal/config"
	"github.com/songseungho-v/ai-clothes-sorter/internal/control"
	"github.com/songseungho-v/ai-clothes-sorter/internal/dispatch"
	"github.com/songseungho-v/ai-clothes-sorter/internal/monitor"
	"github.com/songseungho-v/ai-clothes-sorter/internal/store"
	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// Service is the main orchestrator.
type Service struct {
	cfg *config.Config

	client     *bus.Client
	ingress    *bus.Ingress
	emitter    *bus.Emitter
	registry   *dispatch.Registry
	snapshots  *dispatch.SnapshotStore
	classifier types.Classifier
	sidecar    *classify.Sidecar // non-nil only for the sidecar backend
	frames     *store.DiskStore
	controlH   *control.Handler
	monitorSrv *monitor.Server

	started   time.Time
	mu        sync.Mutex
	isRunning bool
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a service from configuration.
func New(cfg *config.Config) (*Service, error) {
	s := &Service{cfg: cfg}

	frames, err := store.NewDiskStore(cfg.Storage.Root, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame store: %w", err)
	}
	s.frames = frames

	switch cfg.Classifier.Backend {
	case "sidecar":
		s.sidecar = classify.NewSidecar(cfg.Classifier.Command, cfg.Classifier.Args, cfg.Classifier.Timeout())
		s.classifier = s.sidecar
	default:
		detections := make([]types.Detection, 0, len(cfg.Classifier.Static))
		for _, d := range cfg.Classifier.Static {
			detections = append(detections, types.Detection{Label: d.Label, Score: d.Score})
		}
		s.classifier = classify.NewStatic(detections)
		slog.Info("using static classifier", "detections", len(detections))
	}

	s.client = bus.NewClient(&cfg.MQTT, cfg.InstanceID)
	s.emitter = bus.NewEmitter(s.client, cfg.CommandAliases)
	s.snapshots = dispatch.NewSnapshotStore()

	return s, nil
}

// Run starts the service and blocks until ctx is cancelled (or a
// shutdown command arrives over the control plane).
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	s.registry = dispatch.NewRegistry(ctx, s.workerFactory())
	s.ingress = bus.NewIngress(s.client, s.registry.Dispatch)

	if s.sidecar != nil {
		if err := s.sidecar.Start(); err != nil {
			return fmt.Errorf("failed to start classifier sidecar: %w", err)
		}
	}

	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	if err := s.ingress.Start(); err != nil {
		return fmt.Errorf("failed to start ingress: %w", err)
	}

	s.controlH = control.NewHandler(&s.cfg.MQTT, s.client, control.Callbacks{
		OnToggleMode:  s.toggleMode,
		OnSetMode:     s.setMode,
		OnGetStatus:   s.status,
		OnGetSnapshot: s.snapshotData,
		OnShutdown:    s.shutdownViaControl,
	})
	if err := s.controlH.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	s.monitorSrv = monitor.NewServer(s.cfg.HTTP.Addr, monitor.Deps{
		Snapshots:  s.snapshots,
		ToggleMode: s.toggleMode,
		Status:     s.status,
	})
	if err := s.monitorSrv.Start(); err != nil {
		return fmt.Errorf("failed to start monitor server: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.statsLoop(ctx, 10*time.Second)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchWorkers(ctx, 30*time.Second)
	}()

	slog.Info("sorter service running",
		"instance_id", s.cfg.InstanceID,
		"broker", s.cfg.MQTT.Broker,
		"http", s.cfg.HTTP.Addr,
	)

	<-ctx.Done()
	slog.Info("sorter service run loop exiting")
	return nil
}

// Shutdown performs graceful shutdown. Order matters: stop admitting
// first, then drain workers, then take down the operator surfaces and
// the bus.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down sorter service")

	if s.ingress != nil {
		s.ingress.Stop()
	}
	if s.registry != nil {
		s.registry.Close()
	}
	if s.controlH != nil {
		s.controlH.Stop()
	}
	if s.monitorSrv != nil {
		if err := s.monitorSrv.Stop(ctx); err != nil {
			slog.Error("failed to stop monitor server", "error", err)
		}
	}

	s.wg.Wait()

	if s.sidecar != nil {
		if err := s.sidecar.Stop(); err != nil {
			slog.Error("failed to stop classifier sidecar", "error", err)
		}
	}
	s.client.Disconnect()

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("sorter service shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// workerFactory builds the per-device queue, debouncer and worker from
// configuration. Camera capability decides the queue depth: frames are
// stale-data, sensor readings even more so.
func (s *Service) workerFactory() dispatch.WorkerFactory {
	policy := dispatch.Policy{
		ProximityThresholdCM: s.cfg.Dispatch.ProximityThresholdCM,
		Confidence:           s.cfg.Dispatch.Confidence,
		AcceptScore:          s.cfg.Dispatch.AcceptScore,
		SaveInterval:         s.cfg.Dispatch.SaveInterval(),
	}

	return func(deviceID string) *dispatch.Worker {
		dev := s.cfg.Devices[deviceID]

		cam := strings.Contains(deviceID, "cam")
		if dev.Cam != nil {
			cam = *dev.Cam
		}
		depth := s.cfg.Dispatch.SensorQueueDepth
		if cam {
			depth = s.cfg.Dispatch.CamQueueDepth
		}

		return dispatch.NewWorker(dispatch.WorkerConfig{
			DeviceID:    deviceID,
			TargetLabel: dev.Target,
			InitialMode: types.Mode(dev.Mode),
			Queue:       dispatch.NewEventQueue(depth),
			Classifier:  s.classifier,
			Store:       s.frames,
			Debouncer:   dispatch.NewDebouncer(s.emitter, s.cfg.Dispatch.CommandCooldown(), nil),
			Snapshots:   s.snapshots,
			Policy:      policy,
		})
	}
}

// toggleMode flips the device's operating mode. Visible to the worker
// by its next decision cycle.
func (s *Service) toggleMode(deviceID string) (string, error) {
	w, err := s.registry.Get(deviceID)
	if err != nil {
		return "", err
	}
	mode := w.ToggleMode()
	slog.Info("mode toggled", "device_id", deviceID, "mode", mode)
	return string(mode), nil
}

func (s *Service) setMode(deviceID, mode string) error {
	m := types.Mode(mode)
	if !m.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	w, err := s.registry.Get(deviceID)
	if err != nil {
		return err
	}
	w.SetMode(m)
	slog.Info("mode set", "device_id", deviceID, "mode", m)
	return nil
}

func (s *Service) status() map[string]any {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	ingress := s.ingress.Stats()
	emitter := s.emitter.Stats()
	saved, failed := s.frames.Stats()

	return map[string]any{
		"instance_id":      s.cfg.InstanceID,
		"uptime_s":         time.Since(started).Seconds(),
		"devices":          len(s.registry.Workers()),
		"events_received":  ingress.Received,
		"events_malformed": ingress.Malformed,
		"queue_drops":      s.registry.QueueDrops(),
		"commands_sent":    emitter.Published,
		"publish_errors":   emitter.Errors,
		"frames_saved":     saved,
		"save_failures":    failed,
		"mqtt_connected":   s.client.IsConnected(),
	}
}

func (s *Service) snapshotData(deviceID string) (map[string]any, error) {
	snap, ok := s.snapshots.Get(deviceID)
	if !ok {
		return nil, dispatch.ErrUnknownDevice
	}
	// Round-trip through JSON to reuse the snapshot's field tags (the
	// frame bytes are excluded there).
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Service) shutdownViaControl() error {
	slog.Info("shutdown requested via control plane")
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// statsLoop logs pipeline statistics and publishes a health message
// periodically.
func (s *Service) statsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.status()
			slog.Debug("pipeline stats",
				"devices", st["devices"],
				"events_received", st["events_received"],
				"events_malformed", st["events_malformed"],
				"queue_drops", st["queue_drops"],
				"publish_errors", st["publish_errors"],
			)

			payload, err := json.Marshal(st)
			if err != nil {
				continue
			}
			if err := s.emitter.PublishHealth(payload); err != nil {
				slog.Debug("health publish failed", "error", err)
			}
		}
	}
}

// watchWorkers flags device workers that have stopped consuming. With
// per-device isolation a stalled worker only harms its own device, so
// the watchdog observes and logs; it never kills.
func (s *Service) watchWorkers(ctx context.Context, interval time.Duration) {
	classifierBudget := s.cfg.Classifier.Timeout()
	stallAfter := 3 * classifierBudget
	if stallAfter < interval {
		stallAfter = interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range s.registry.Workers() {
				idle := time.Since(w.LastActiveAt())
				if idle > stallAfter {
					slog.Warn("device worker appears stalled",
						"device_id", w.DeviceID(),
						"idle_s", int(idle.Seconds()),
						"stall_threshold_s", int(stallAfter.Seconds()),
					)
				}
			}
		}
	}
}
