package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	// Topic defaults follow the capture devices' wire contract.
	if cfg.MQTT.Topics.Frames == "" {
		cfg.MQTT.Topics.Frames = "camera/frame/#"
	}
	if cfg.MQTT.Topics.Commands == "" {
		cfg.MQTT.Topics.Commands = "image/command"
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("sorter/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("sorter/health/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"frames":   0,
			"commands": 0,
			"control":  1,
			"health":   0,
		}
	}

	// Canonical decision constants. Zero means "use the default"; a
	// negative value is an error.
	d := &cfg.Dispatch
	switch {
	case d.ProximityThresholdCM < 0:
		return fmt.Errorf("dispatch.proximity_threshold_cm must be >= 0")
	case d.ProximityThresholdCM == 0:
		d.ProximityThresholdCM = 30
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("dispatch.confidence must be in [0,1]")
	}
	if d.Confidence == 0 {
		d.Confidence = 0.5
	}
	if d.AcceptScore < 0 || d.AcceptScore > 1 {
		return fmt.Errorf("dispatch.accept_score must be in [0,1]")
	}
	if d.AcceptScore == 0 {
		d.AcceptScore = 0.8
	}
	if d.SaveIntervalS < 0 {
		return fmt.Errorf("dispatch.save_interval_s must be >= 0")
	}
	if d.SaveIntervalS == 0 {
		d.SaveIntervalS = 1.5
	}
	if d.CommandCooldownS < 0 {
		return fmt.Errorf("dispatch.command_cooldown_s must be >= 0")
	}
	if d.CommandCooldownS == 0 {
		d.CommandCooldownS = 0.5
	}
	if d.CamQueueDepth < 0 {
		return fmt.Errorf("dispatch.cam_queue_depth must be >= 1")
	}
	if d.CamQueueDepth == 0 {
		d.CamQueueDepth = 5
	}
	if d.SensorQueueDepth < 0 {
		return fmt.Errorf("dispatch.sensor_queue_depth must be >= 1")
	}
	if d.SensorQueueDepth == 0 {
		d.SensorQueueDepth = 1
	}

	switch cfg.Classifier.Backend {
	case "":
		cfg.Classifier.Backend = "static"
	case "static":
	case "sidecar":
		if cfg.Classifier.Command == "" {
			return fmt.Errorf("classifier.command is required for the sidecar backend")
		}
	default:
		return fmt.Errorf("classifier.backend must be 'sidecar' or 'static', got %q", cfg.Classifier.Backend)
	}
	if cfg.Classifier.TimeoutS == 0 {
		cfg.Classifier.TimeoutS = 10
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "saved_images"
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	for id, dev := range cfg.Devices {
		switch dev.Mode {
		case "", "detect", "proximity":
		default:
			return fmt.Errorf("devices.%s.mode must be 'detect' or 'proximity', got %q", id, dev.Mode)
		}
	}

	return nil
}
