// Package config loads and validates the appliance configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/carebridge/dispenser/core/actuator"
	"github.com/carebridge/dispenser/core/client"
	"github.com/carebridge/dispenser/core/metrics"
	"github.com/carebridge/dispenser/infra/mqtt"
)

type Config struct {
	Reader   ReaderConfig   `json:"reader"`
	Server   client.Config  `json:"server"`
	Hardware HardwareConfig `json:"hardware"`
	Dispense DispenseConfig `json:"dispense"`
	Queue    QueueConfig    `json:"queue"`
	Metrics  metrics.Config `json:"metrics"`
	MQTT     mqtt.Config    `json:"mqtt"`
	Device   DeviceConfig   `json:"device"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("DISP_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "disp_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Reader.SetDefaults()
	c.Server.SetDefaults()
	c.Hardware.Pins.SetDefaults()
	c.Dispense.SetDefaults()
	c.Queue.SetDefaults()
	c.MQTT.SetDefaults()
	c.Device.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Reader.Validate(); err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Hardware.Pins.Validate(); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}

// ReaderConfig selects the scan transport and its timing.
type ReaderConfig struct {
	// Mode selects the transport: "serial", "stdin" or "mqtt".
	Mode string `json:"mode"`
	// Device is the tag reader's device file, serial mode only.
	Device string `json:"device"`
	// DebounceMS suppresses repeats of the same tag within the window.
	DebounceMS int `json:"debounce_ms"`
	// PollIntervalMS is the idle sleep between reader polls.
	PollIntervalMS int `json:"poll_interval_ms"`
}

func (c *ReaderConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "serial"
	}
	if c.Device == "" {
		c.Device = "/dev/ttyUSB0"
	}
	if c.DebounceMS <= 0 {
		c.DebounceMS = 2000
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = 500
	}
}

func (c ReaderConfig) Validate() error {
	switch c.Mode {
	case "serial", "stdin", "mqtt":
		return nil
	default:
		return fmt.Errorf("unknown mode %s", c.Mode)
	}
}

// HardwareConfig selects the pin backend and the slot wiring.
type HardwareConfig struct {
	// Simulation swaps the sysfs driver for the in-memory one.
	Simulation bool            `json:"simulation"`
	Pins       actuator.Config `json:"pins"`
}

// DispenseConfig holds orchestration knobs.
type DispenseConfig struct {
	// SlotMapTTLSeconds bounds the validity of the cached slot table.
	SlotMapTTLSeconds int `json:"slot_map_ttl_seconds"`
	// SelfTestOnStart cycles every slot once before the first scan.
	SelfTestOnStart bool `json:"self_test_on_start"`
}

func (c *DispenseConfig) SetDefaults() {
	if c.SlotMapTTLSeconds <= 0 {
		c.SlotMapTTLSeconds = 300
	}
}

// QueueConfig selects the offline queue store.
type QueueConfig struct {
	// Backend selects the store type: "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the queue store.
	Path string `json:"path"`
}

func (c *QueueConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "offline-queue.jsonl"
	}
}

func (c QueueConfig) Validate() error {
	if c.Backend != "jsonl" && c.Backend != "sqlite" {
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// DeviceConfig locates the persisted appliance identity.
type DeviceConfig struct {
	// IdentityFile stores the generated device ID across restarts.
	IdentityFile string `json:"identity_file"`
}

func (c *DeviceConfig) SetDefaults() {
	if c.IdentityFile == "" {
		c.IdentityFile = "device-id"
	}
}
