// Package config loads and validates the YAML service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/schedule"
	"gopkg.in/yaml.v3"
)

// Config represents the complete preroll valve service configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Valve            ValveConfig     `yaml:"valve"`
	Pipeline         PipelineConfig  `yaml:"pipeline"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	Schedule         []ScheduleEntry `yaml:"schedule"`
}

// ValveConfig contains the valve settings
type ValveConfig struct {
	Open         bool   `yaml:"open"`
	MaxHistoryMS *int   `yaml:"max_history_ms"` // nil = default (5000)
	Debug        bool   `yaml:"debug"`
	MaxUnits     int    `yaml:"max_units"`  // 0 = unbounded
	FlushMode    string `yaml:"flush_mode"` // latest-keyframe | earliest-keyframe
}

// PipelineConfig contains the GStreamer pipeline descriptions
type PipelineConfig struct {
	Source     string          `yaml:"source"`      // ingest, before the appsink
	Sink       string          `yaml:"sink"`        // egress, after the appsrc
	RecordPath string          `yaml:"record_path"` // optional msgpack record of emitted units
	Reconnect  ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains ingest reconnection settings
type ReconnectConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`     // default: 5
	InitialDelayMS int `yaml:"initial_delay_ms"` // default: 1000
	MaxDelayMS     int `yaml:"max_delay_ms"`     // default: 30000
}

// MQTTConfig contains MQTT broker settings. An empty broker disables the
// control plane.
type MQTTConfig struct {
	Broker   string          `yaml:"broker"`
	ClientID string          `yaml:"client_id"`
	Username string          `yaml:"username"`
	Password string          `yaml:"password"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Status  string `yaml:"status"`
	Events  string `yaml:"events"`
}

// ScheduleEntry is a timed open/close toggle
type ScheduleEntry struct {
	Action string `yaml:"action"` // open | close
	At     string `yaml:"at"`     // offset from start, e.g. "20s"
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ValveSettings converts the valve section into a prerollvalve.Config
func (c *Config) ValveSettings() (prerollvalve.Config, error) {
	vc := prerollvalve.DefaultConfig()
	vc.Open = c.Valve.Open
	vc.Debug = c.Valve.Debug
	vc.MaxUnits = c.Valve.MaxUnits
	if c.Valve.MaxHistoryMS != nil {
		vc.MaxHistory = time.Duration(*c.Valve.MaxHistoryMS) * time.Millisecond
	}

	mode, err := prerollvalve.ParseFlushMode(c.Valve.FlushMode)
	if err != nil {
		return vc, err
	}
	vc.FlushMode = mode

	return vc, vc.Validate()
}

// ReconnectSettings are the ingest reconnection settings as durations
type ReconnectSettings struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Reconnect converts the pipeline reconnect section. Zero values mean the
// host default.
func (c *Config) Reconnect() ReconnectSettings {
	r := c.Pipeline.Reconnect
	return ReconnectSettings{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: time.Duration(r.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelayMS) * time.Millisecond,
	}
}

// Toggles returns the schedule as sorted toggles
func (c *Config) Toggles() ([]schedule.Toggle, error) {
	toggles := make([]schedule.Toggle, 0, len(c.Schedule))
	for i, e := range c.Schedule {
		open, err := schedule.ParseAction(e.Action)
		if err != nil {
			return nil, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		at, err := time.ParseDuration(e.At)
		if err != nil {
			return nil, fmt.Errorf("schedule[%d]: bad offset %q: %w", i, e.At, err)
		}
		toggles = append(toggles, schedule.Toggle{Open: open, At: at})
	}
	return schedule.New(toggles...)
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
