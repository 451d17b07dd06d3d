package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Valve
	if cfg.Valve.MaxHistoryMS != nil && *cfg.Valve.MaxHistoryMS < 0 {
		return fmt.Errorf("valve.max_history_ms must be >= 0")
	}
	if cfg.Valve.MaxUnits < 0 {
		return fmt.Errorf("valve.max_units must be >= 0")
	}
	if cfg.Valve.FlushMode == "" {
		cfg.Valve.FlushMode = "latest-keyframe"
	}
	if _, err := cfg.ValveSettings(); err != nil {
		return fmt.Errorf("valve: %w", err)
	}

	// Pipeline
	if cfg.Pipeline.Source == "" {
		return fmt.Errorf("pipeline.source is required")
	}
	if cfg.Pipeline.Sink == "" {
		return fmt.Errorf("pipeline.sink is required")
	}
	if cfg.Pipeline.Reconnect.MaxAttempts < 0 ||
		cfg.Pipeline.Reconnect.InitialDelayMS < 0 ||
		cfg.Pipeline.Reconnect.MaxDelayMS < 0 {
		return fmt.Errorf("pipeline.reconnect values must be >= 0")
	}

	// MQTT (optional)
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("care/preroll/%s/control", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Status == "" {
			cfg.MQTT.Topics.Status = fmt.Sprintf("care/preroll/%s/status", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("care/preroll/%s/events", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control": 1,
				"status":  1,
				"events":  0,
			}
		}
		for topic, qos := range cfg.MQTT.QoS {
			if qos > 2 {
				return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2", topic)
			}
		}
	}

	// Schedule
	if _, err := cfg.Toggles(); err != nil {
		return err
	}

	return nil
}
