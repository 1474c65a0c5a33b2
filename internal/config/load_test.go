// internal/config/load_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
logging:
  level: debug
  format: text
links:
  - id: des0
    bus: "i2c:1"
    address: 0x48
    csi_mode: 2x4
    max_sources: 2
    power:
      reset_gpio: GPIO17
      rail_gpio: GPIO27
sensors:
  - id: cam0
    model: imx335
    bus: "i2c:1"
    address: 0x1a
    broadcast_address: 0x10
    transport: gmsl
    link: des0
    csi_link: A
    mode: "1920x1080"
    frame_rate: 30
    exposure_us: 10000
    gain: 60
    role: broadcast
    status_slot: 0
    device_name: CAM-FRONT
status_memory:
  endpoint: 127.0.0.1:502
  unit_id: 1
`

func TestLoad_Sample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camlink.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if len(cfg.Links) != 1 || cfg.Links[0].Power.RailGPIO != "GPIO27" {
		t.Fatalf("links %+v", cfg.Links)
	}
	s := cfg.Sensors[0]
	if s.Address != 0x1A || s.BroadcastAddress != 0x10 || s.ExposureUs != 10000 {
		t.Fatalf("sensor %+v", s)
	}
	if s.StatusSlot == nil || *s.StatusSlot != 0 {
		t.Fatalf("status slot not parsed")
	}
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("sensors:\n  - id: cam0\n    exposure: 10\n")); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Sensors) != 0 {
		t.Fatalf("expected empty config")
	}
}

func TestParseBus(t *testing.T) {
	tests := []struct {
		in   string
		kind BusKind
		name string
		ok   bool
	}{
		{"i2c:1", BusI2C, "1", true},
		{"i2c:", BusI2C, "", true},
		{"modbus-tcp://10.0.0.2:502", BusModbus, "modbus-tcp://10.0.0.2:502", true},
		{"modbus-rtu:///dev/ttyUSB0", BusModbus, "modbus-rtu:///dev/ttyUSB0", true},
		{"modbus-tcp://", 0, "", false},
		{"/dev/i2c-1", 0, "", false},
	}
	for _, tt := range tests {
		b, err := ParseBus(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("%q: err=%v", tt.in, err)
		}
		if tt.ok && (b.Kind != tt.kind || b.Name != tt.name) {
			t.Fatalf("%q: got %+v", tt.in, b)
		}
	}
}
