package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/simgunz/udp-ip-stack/internal/protocol"
	"github.com/simgunz/udp-ip-stack/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	defaultLogLevel = "info"

	defaultLocalBindAddr    = "0.0.0.0"
	defaultLocalReadBuffer  = "4mb"
	defaultLocalWriteBuffer = "4mb"

	defaultTestPacketCount = 1000
	defaultPacingInterval  = 1 * time.Microsecond

	defaultControlEnabled        = true
	defaultControlAddr           = "127.0.0.1"
	defaultControlPort           = 8080
	defaultControlMetricsEnabled = true

	defaultHistoryPath = "udpbench.db"
	defaultHistoryKeep = 1000

	defaultEmulatorBindAddr  = "127.0.0.1"
	defaultEmulatorClockRate = "125m"

	PacingAuto      = "auto"
	PacingReadiness = "readiness"
	PacingInterval  = "interval"
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Local    LocalConfig    `yaml:"local"`
	Remote   RemoteConfig   `yaml:"remote"`
	Test     TestConfig     `yaml:"test"`
	Control  ControlConfig  `yaml:"control"`
	History  HistoryConfig  `yaml:"history"`
	Emulator EmulatorConfig `yaml:"emulator"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LocalConfig describes the benchmark socket. Replies from the remote are
// addressed to Port, so it must match the remote's configuration.
type LocalConfig struct {
	BindAddr    string `yaml:"bind_addr"`
	Port        int    `yaml:"port"`
	TOS         int    `yaml:"tos"`
	ReadBuffer  string `yaml:"read_buffer"`
	WriteBuffer string `yaml:"write_buffer"`

	ReadBufferBytes  uint32 `yaml:"-"`
	WriteBufferBytes uint32 `yaml:"-"`
}

type RemoteConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

type TestConfig struct {
	PacketCount int `yaml:"packet_count"`
	// InterPacketDelay is expressed in remote clock cycles.
	InterPacketDelay int64    `yaml:"inter_packet_delay"`
	Pacing           string   `yaml:"pacing"`
	Interval         Duration `yaml:"interval"`
	// CountEndMarker defaults to false: the 0xDD datagram closes the stream
	// without being counted, so a lossless run of N payloads reports 0 %.
	// Set true for legacy counting, where every inbound datagram is counted
	// before the marker check and a lossless run reports -100/N %.
	CountEndMarker bool `yaml:"count_end_marker"`
}

type ControlConfig struct {
	Enabled   *bool                `yaml:"enabled"`
	BindAddr  string               `yaml:"bind_addr"`
	BindPort  int                  `yaml:"bind_port"`
	AuthToken string               `yaml:"auth_token"`
	Metrics   ControlMetricsConfig `yaml:"metrics"`
}

type ControlMetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"`
}

type EmulatorConfig struct {
	BindAddr string `yaml:"bind_addr"`
	Port     int    `yaml:"port"`
	// ReplyPort is where the emulator sends reports and streams; 0 replies
	// to the sender's port.
	ReplyPort int    `yaml:"reply_port"`
	ClockRate string `yaml:"clock_rate"`

	ClockHz uint64 `yaml:"-"`
}

func (c ControlConfig) IsEnabled() bool {
	return util.BoolValue(c.Enabled, defaultControlEnabled)
}

func (m ControlMetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultControlMetricsEnabled)
}

// Default returns a validated configuration for one-shot CLI use, where no
// control server runs.
func Default() Config {
	disabled := false
	cfg := Config{Control: ControlConfig{Enabled: &disabled}}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize applies defaults and validation after fields were overridden
// programmatically (for example from CLI flags).
func (c *Config) Normalize() error {
	c.setDefaults()
	return c.validate()
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}

	if c.Local.BindAddr == "" {
		c.Local.BindAddr = defaultLocalBindAddr
	}
	if c.Local.Port == 0 {
		c.Local.Port = protocol.DefaultLocalPort
	}
	if c.Local.ReadBuffer == "" {
		c.Local.ReadBuffer = defaultLocalReadBuffer
	}
	if c.Local.WriteBuffer == "" {
		c.Local.WriteBuffer = defaultLocalWriteBuffer
	}

	if c.Remote.Port == 0 {
		c.Remote.Port = protocol.DefaultRemotePort
	}

	if c.Test.PacketCount == 0 {
		c.Test.PacketCount = defaultTestPacketCount
	}
	if c.Test.Pacing == "" {
		c.Test.Pacing = PacingAuto
	}
	if c.Test.Interval == 0 {
		c.Test.Interval = Duration(defaultPacingInterval)
	}

	if c.Control.BindAddr == "" {
		c.Control.BindAddr = defaultControlAddr
	}
	if c.Control.BindPort == 0 {
		c.Control.BindPort = defaultControlPort
	}
	if c.Control.Enabled == nil {
		enabled := defaultControlEnabled
		c.Control.Enabled = &enabled
	}
	if c.Control.Metrics.Enabled == nil {
		enabled := defaultControlMetricsEnabled
		c.Control.Metrics.Enabled = &enabled
	}

	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath
	}
	if c.History.Keep == 0 {
		c.History.Keep = defaultHistoryKeep
	}

	if c.Emulator.BindAddr == "" {
		c.Emulator.BindAddr = defaultEmulatorBindAddr
	}
	if c.Emulator.Port == 0 {
		c.Emulator.Port = protocol.DefaultRemotePort
	}
	if c.Emulator.ClockRate == "" {
		c.Emulator.ClockRate = defaultEmulatorClockRate
	}
}

func (c *Config) validate() error {
	if c.Local.Port <= 0 || c.Local.Port > 65535 {
		return errors.New("local.port must be in 1..65535")
	}
	if c.Local.TOS < 0 || c.Local.TOS > 255 {
		return errors.New("local.tos must be in 0..255")
	}
	readBuf, err := ParseSize(c.Local.ReadBuffer)
	if err != nil {
		return fmt.Errorf("local.read_buffer: %w", err)
	}
	c.Local.ReadBufferBytes = readBuf
	writeBuf, err := ParseSize(c.Local.WriteBuffer)
	if err != nil {
		return fmt.Errorf("local.write_buffer: %w", err)
	}
	c.Local.WriteBufferBytes = writeBuf

	c.Remote.Addr = strings.TrimSpace(c.Remote.Addr)
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		return errors.New("remote.port must be in 1..65535")
	}

	if c.Test.PacketCount <= 0 || int64(c.Test.PacketCount) > math.MaxUint32 {
		return errors.New("test.packet_count must be in 1..4294967295")
	}
	if c.Test.InterPacketDelay < 0 || c.Test.InterPacketDelay > math.MaxUint32 {
		return errors.New("test.inter_packet_delay must be in 0..4294967295")
	}
	c.Test.Pacing = strings.ToLower(strings.TrimSpace(c.Test.Pacing))
	switch c.Test.Pacing {
	case PacingAuto, PacingReadiness, PacingInterval:
	default:
		return fmt.Errorf("test.pacing must be %s, %s or %s", PacingAuto, PacingReadiness, PacingInterval)
	}
	if c.Test.Interval.Duration() <= 0 {
		return errors.New("test.interval must be > 0")
	}

	if c.Control.IsEnabled() {
		if c.Control.AuthToken == "" {
			return errors.New("control.auth_token must not be empty")
		}
		if c.Control.BindPort <= 0 || c.Control.BindPort > 65535 {
			return errors.New("control.bind_port must be in 1..65535")
		}
	}

	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return errors.New("history.path must not be empty")
	}
	if c.History.Keep < 0 {
		return errors.New("history.keep must be >= 0")
	}

	if c.Emulator.Port <= 0 || c.Emulator.Port > 65535 {
		return errors.New("emulator.port must be in 1..65535")
	}
	if c.Emulator.ReplyPort < 0 || c.Emulator.ReplyPort > 65535 {
		return errors.New("emulator.reply_port must be in 0..65535")
	}
	hz, err := ParseFrequency(c.Emulator.ClockRate)
	if err != nil {
		return fmt.Errorf("emulator.clock_rate: %w", err)
	}
	if hz == 0 {
		return errors.New("emulator.clock_rate must be > 0")
	}
	c.Emulator.ClockHz = hz
	return nil
}
