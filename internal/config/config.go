package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete sorter service configuration.
type Config struct {
	InstanceID       string  `yaml:"instance_id"`
	ShutdownTimeoutS float64 `yaml:"shutdown_timeout_s"`

	MQTT       MQTTConfig       `yaml:"mqtt"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`

	// Devices seeds per-device settings (initial mode, target label,
	// camera capability). Devices absent here still get a context on
	// first event, with defaults.
	Devices map[string]DeviceConfig `yaml:"devices"`

	// CommandAliases rewrites the device id used on the outgoing
	// command topic (the capture device and the actuator can be
	// distinct endpoints, e.g. raspi-cam-01 -> raspi-01).
	CommandAliases map[string]string `yaml:"command_aliases"`
}

// MQTTConfig contains broker settings and topic templates.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains the topic namespaces. Frames is a subscription
// filter; Commands, Control and Health are prefixes the device id (or
// instance id) is appended to.
type MQTTTopics struct {
	Frames   string `yaml:"frames"`
	Commands string `yaml:"commands"`
	Control  string `yaml:"control"`
	Health   string `yaml:"health"`
}

// DispatchConfig fixes the canonical decision constants. The source
// variants tuned these across six copies; one named set lives here.
type DispatchConfig struct {
	ProximityThresholdCM int     `yaml:"proximity_threshold_cm"`
	Confidence           float64 `yaml:"confidence"`
	AcceptScore          float64 `yaml:"accept_score"`
	SaveIntervalS        float64 `yaml:"save_interval_s"`
	CommandCooldownS     float64 `yaml:"command_cooldown_s"`
	CamQueueDepth        int     `yaml:"cam_queue_depth"`
	SensorQueueDepth     int     `yaml:"sensor_queue_depth"`
}

// ClassifierConfig selects and configures the classifier backend.
type ClassifierConfig struct {
	// Backend is "sidecar" (external model process over stdin/stdout)
	// or "static" (rule table, for development and tests).
	Backend string `yaml:"backend"`

	// Command and Args launch the sidecar process.
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
	TimeoutS float64  `yaml:"timeout_s"`

	// Static holds the label/score table for the static backend.
	Static []StaticDetection `yaml:"static"`
}

// StaticDetection is one fixed answer of the static classifier.
type StaticDetection struct {
	Label string  `yaml:"label"`
	Score float64 `yaml:"score"`
}

// StorageConfig contains frame store settings.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// HTTPConfig contains the monitor server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DeviceConfig seeds one device's context.
type DeviceConfig struct {
	Mode   string `yaml:"mode"`
	Target string `yaml:"target"`

	// Cam overrides camera-capability detection (by default a device id
	// containing "cam" is treated as camera-bearing).
	Cam *bool `yaml:"cam,omitempty"`
}

// SaveInterval returns the save throttle as a duration.
func (c *DispatchConfig) SaveInterval() time.Duration {
	return time.Duration(c.SaveIntervalS * float64(time.Second))
}

// CommandCooldown returns the command cooldown as a duration.
func (c *DispatchConfig) CommandCooldown() time.Duration {
	return time.Duration(c.CommandCooldownS * float64(time.Second))
}

// Timeout returns the sidecar call timeout as a duration.
func (c *ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS * float64(time.Second))
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutS * float64(time.Second))
}

// Load reads, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
