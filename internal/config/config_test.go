package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sorter.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
instance_id: sorter-pc-01
mqtt:
  broker: tcp://127.0.0.1:1883
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MQTT.Topics.Frames != "camera/frame/#" {
		t.Errorf("frames topic = %q", cfg.MQTT.Topics.Frames)
	}
	if cfg.MQTT.Topics.Commands != "image/command" {
		t.Errorf("commands topic = %q", cfg.MQTT.Topics.Commands)
	}
	if cfg.MQTT.Topics.Control != "sorter/control/sorter-pc-01" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Topics.Health != "sorter/health/sorter-pc-01" {
		t.Errorf("health topic = %q", cfg.MQTT.Topics.Health)
	}

	d := cfg.Dispatch
	if d.ProximityThresholdCM != 30 {
		t.Errorf("proximity threshold = %d, want 30", d.ProximityThresholdCM)
	}
	if d.Confidence != 0.5 || d.AcceptScore != 0.8 {
		t.Errorf("confidence/accept = %v/%v, want 0.5/0.8", d.Confidence, d.AcceptScore)
	}
	if d.SaveInterval() != 1500*time.Millisecond {
		t.Errorf("save interval = %v, want 1.5s", d.SaveInterval())
	}
	if d.CommandCooldown() != 500*time.Millisecond {
		t.Errorf("command cooldown = %v, want 0.5s", d.CommandCooldown())
	}
	if d.CamQueueDepth != 5 || d.SensorQueueDepth != 1 {
		t.Errorf("queue depths = %d/%d, want 5/1", d.CamQueueDepth, d.SensorQueueDepth)
	}

	if cfg.Classifier.Backend != "static" {
		t.Errorf("classifier backend = %q, want static default", cfg.Classifier.Backend)
	}
	if cfg.Storage.Root != "saved_images" {
		t.Errorf("storage root = %q", cfg.Storage.Root)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http addr = %q", cfg.HTTP.Addr)
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
instance_id: sorter-pc-01
shutdown_timeout_s: 8
mqtt:
  broker: tcp://172.30.1.88:1883
dispatch:
  proximity_threshold_cm: 25
  save_interval_s: 2.0
classifier:
  backend: sidecar
  command: python3
  args: ["detector_sidecar.py"]
  timeout_s: 3
devices:
  raspi-cam-01:
    mode: detect
    target: "청바지"
  raspi-cam-02:
    mode: proximity
command_aliases:
  raspi-cam-01: raspi-01
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ShutdownTimeout() != 8*time.Second {
		t.Errorf("shutdown timeout = %v, want 8s", cfg.ShutdownTimeout())
	}
	if cfg.Dispatch.ProximityThresholdCM != 25 {
		t.Errorf("threshold override lost: %d", cfg.Dispatch.ProximityThresholdCM)
	}
	if cfg.Classifier.Timeout() != 3*time.Second {
		t.Errorf("classifier timeout = %v, want 3s", cfg.Classifier.Timeout())
	}
	if dev := cfg.Devices["raspi-cam-01"]; dev.Mode != "detect" || dev.Target != "청바지" {
		t.Errorf("device seed = %+v", dev)
	}
	if cfg.CommandAliases["raspi-cam-01"] != "raspi-01" {
		t.Errorf("alias = %q", cfg.CommandAliases["raspi-cam-01"])
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			"missing instance id",
			"mqtt:\n  broker: tcp://127.0.0.1:1883\n",
			"instance_id",
		},
		{
			"bad instance id",
			"instance_id: Sorter_PC\nmqtt:\n  broker: tcp://127.0.0.1:1883\n",
			"instance_id",
		},
		{
			"missing broker",
			"instance_id: sorter-pc-01\n",
			"mqtt.broker",
		},
		{
			"negative threshold",
			"instance_id: sorter-pc-01\nmqtt:\n  broker: b\ndispatch:\n  proximity_threshold_cm: -1\n",
			"proximity_threshold_cm",
		},
		{
			"confidence out of range",
			"instance_id: sorter-pc-01\nmqtt:\n  broker: b\ndispatch:\n  confidence: 1.5\n",
			"confidence",
		},
		{
			"sidecar without command",
			"instance_id: sorter-pc-01\nmqtt:\n  broker: b\nclassifier:\n  backend: sidecar\n",
			"classifier.command",
		},
		{
			"unknown backend",
			"instance_id: sorter-pc-01\nmqtt:\n  broker: b\nclassifier:\n  backend: onnx\n",
			"classifier.backend",
		},
		{
			"bad device mode",
			"instance_id: sorter-pc-01\nmqtt:\n  broker: b\ndevices:\n  raspi-cam-01:\n    mode: tracking\n",
			"mode",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
