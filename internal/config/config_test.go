package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/simgunz/udp-ip-stack/internal/protocol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
remote:
  addr: 192.168.1.10
control:
  auth_token: secret
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Local.Port != protocol.DefaultLocalPort {
		t.Fatalf("local.port = %d, want %d", cfg.Local.Port, protocol.DefaultLocalPort)
	}
	if cfg.Remote.Port != protocol.DefaultRemotePort {
		t.Fatalf("remote.port = %d, want %d", cfg.Remote.Port, protocol.DefaultRemotePort)
	}
	if cfg.Test.PacketCount != defaultTestPacketCount {
		t.Fatalf("test.packet_count = %d", cfg.Test.PacketCount)
	}
	if cfg.Test.Pacing != PacingAuto {
		t.Fatalf("test.pacing = %q", cfg.Test.Pacing)
	}
	if cfg.Test.Interval.Duration() != time.Microsecond {
		t.Fatalf("test.interval = %s", cfg.Test.Interval.Duration())
	}
	if cfg.Local.ReadBufferBytes != 4_000_000 {
		t.Fatalf("read buffer = %d", cfg.Local.ReadBufferBytes)
	}
	if !cfg.Control.IsEnabled() || !cfg.Control.Metrics.IsEnabled() {
		t.Fatalf("control and metrics should default to enabled")
	}
	if cfg.Emulator.ClockHz != 125_000_000 {
		t.Fatalf("emulator clock = %d", cfg.Emulator.ClockHz)
	}
}

func TestLoadConfigDurations(t *testing.T) {
	path := writeConfig(t, `
test:
  pacing: Interval
  interval: 0.00001
control:
  enabled: false
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Test.Pacing != PacingInterval {
		t.Fatalf("pacing not normalized: %q", cfg.Test.Pacing)
	}
	if cfg.Test.Interval.Duration() != 10*time.Microsecond {
		t.Fatalf("interval = %s", cfg.Test.Interval.Duration())
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing token": "remote: {addr: 10.0.0.1}\n",
		"bad pacing":    "control: {enabled: false}\ntest: {pacing: turbo}\n",
		"bad count":     "control: {enabled: false}\ntest: {packet_count: -4}\n",
		"bad delay":     "control: {enabled: false}\ntest: {inter_packet_delay: -1}\n",
		"bad port":      "control: {enabled: false}\nlocal: {port: 70000}\n",
		"bad clock":     "control: {enabled: false}\nemulator: {clock_rate: fast}\n",
	}
	for name, body := range cases {
		path := writeConfig(t, body)
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Control.IsEnabled() {
		t.Fatalf("default config must not start the control server")
	}
	cfg.Test.PacketCount = 0
	cfg.Remote.Addr = " 10.0.0.2 "
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Test.PacketCount != defaultTestPacketCount || cfg.Remote.Addr != "10.0.0.2" {
		t.Fatalf("Normalize did not apply defaults: %+v", cfg.Test)
	}
}

func TestParseUnits(t *testing.T) {
	hz, err := ParseFrequency("100MHz")
	if err != nil || hz != 100_000_000 {
		t.Fatalf("ParseFrequency = %d, %v", hz, err)
	}
	if _, err := ParseFrequency("-1k"); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Fatalf("expected negative error, got %v", err)
	}
	size, err := ParseSize("2mb")
	if err != nil || size != 2_000_000 {
		t.Fatalf("ParseSize = %d, %v", size, err)
	}
}
