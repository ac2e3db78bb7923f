// Package config holds the node's runtime-tunable sensor/beacon knobs (spec
// §6 Control surface) as a single cloneable snapshot, validated the way the
// teacher's node/config.go validates its own Config: field-by-field checks
// returning a wrapped sentinel error.
package config

import (
	"errors"
	"fmt"
)

// ErrUnknownKey is returned when a CONFIG line names an option this node
// does not recognize (spec §7 NotFound).
var ErrUnknownKey = errors.New("config: unknown key")

// ErrInvalidValue is returned when a CONFIG line's value fails validation.
var ErrInvalidValue = errors.New("config: invalid value")

// SensorConfig is the cloneable snapshot of every control-surface knob named
// in spec §6. Components receive it by value; there is no ambient global.
type SensorConfig struct {
	AudioIntervalMs       uint32
	EnvSensorIntervalMs   uint32
	GasSensorIntervalMs   uint32
	MagSensorIntervalMs   uint32
	PowerSensorIntervalMs uint32
	BeaconIntervalMs      uint32
	BeaconOffsetMs        uint32

	AudioEnabled       bool
	EnvSensorEnabled   bool
	GasSensorEnabled   bool
	MagSensorEnabled   bool
	PowerSensorEnabled bool
}

// DefaultConfig mirrors sensor_config_get_default's values: all sensors
// enabled except audio (high power draw), with its original per-sensor
// sampling intervals.
func DefaultConfig() SensorConfig {
	return SensorConfig{
		AudioIntervalMs:       300_000,
		EnvSensorIntervalMs:   60_000,
		GasSensorIntervalMs:   120_000,
		MagSensorIntervalMs:   60_000,
		PowerSensorIntervalMs: 10_000,
		BeaconIntervalMs:      1_000,
		BeaconOffsetMs:        0,

		AudioEnabled:       false,
		EnvSensorEnabled:   true,
		GasSensorEnabled:   true,
		MagSensorEnabled:   true,
		PowerSensorEnabled: true,
	}
}

// minIntervalMs is the floor below which a sampling/beacon interval is
// rejected as nonsensical (spec §7 InvalidArg).
const minIntervalMs = 10

// Validate checks every interval is positive and above the sanity floor.
func (c SensorConfig) Validate() error {
	for name, v := range map[string]uint32{
		"audio_interval_ms":       c.AudioIntervalMs,
		"env_sensor_interval_ms":  c.EnvSensorIntervalMs,
		"gas_sensor_interval_ms":  c.GasSensorIntervalMs,
		"mag_sensor_interval_ms":  c.MagSensorIntervalMs,
		"power_sensor_interval_ms": c.PowerSensorIntervalMs,
		"beacon_interval_ms":      c.BeaconIntervalMs,
	} {
		if v < minIntervalMs {
			return fmt.Errorf("%w: %s below %dms floor", ErrInvalidValue, name, minIntervalMs)
		}
	}
	return nil
}

// Set applies one CONFIG key=value update to a clone of c, validates the
// result, and returns the new snapshot (spec §6 "Replies OK config applied
// or ERR <reason>").
func (c SensorConfig) Set(key, value string) (SensorConfig, error) {
	next := c
	switch key {
	case "audio_interval_ms":
		if err := setUint32(&next.AudioIntervalMs, value); err != nil {
			return c, err
		}
	case "env_sensor_interval_ms":
		if err := setUint32(&next.EnvSensorIntervalMs, value); err != nil {
			return c, err
		}
	case "gas_sensor_interval_ms":
		if err := setUint32(&next.GasSensorIntervalMs, value); err != nil {
			return c, err
		}
	case "mag_sensor_interval_ms":
		if err := setUint32(&next.MagSensorIntervalMs, value); err != nil {
			return c, err
		}
	case "power_sensor_interval_ms":
		if err := setUint32(&next.PowerSensorIntervalMs, value); err != nil {
			return c, err
		}
	case "beacon_interval_ms":
		if err := setUint32(&next.BeaconIntervalMs, value); err != nil {
			return c, err
		}
	case "beacon_offset_ms":
		if err := setUint32(&next.BeaconOffsetMs, value); err != nil {
			return c, err
		}
	case "audio_enabled":
		if err := setBool(&next.AudioEnabled, value); err != nil {
			return c, err
		}
	case "env_sensor_enabled":
		if err := setBool(&next.EnvSensorEnabled, value); err != nil {
			return c, err
		}
	case "gas_sensor_enabled":
		if err := setBool(&next.GasSensorEnabled, value); err != nil {
			return c, err
		}
	case "mag_sensor_enabled":
		if err := setBool(&next.MagSensorEnabled, value); err != nil {
			return c, err
		}
	case "power_sensor_enabled":
		if err := setBool(&next.PowerSensorEnabled, value); err != nil {
			return c, err
		}
	default:
		return c, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

func setUint32(dst *uint32, value string) error {
	var v uint32
	if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
		return fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, value)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, value string) error {
	switch value {
	case "0":
		*dst = false
	case "1":
		*dst = true
	default:
		return fmt.Errorf("%w: %q is not 0 or 1", ErrInvalidValue, value)
	}
	return nil
}

// AsMap renders every option as the string form SensorConfig.Set accepts,
// suitable for bulk persistence via internal/persistence's sensor_cfg bucket.
func (c SensorConfig) AsMap() map[string]string {
	boolStr := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	return map[string]string{
		"audio_interval_ms":        fmt.Sprint(c.AudioIntervalMs),
		"env_sensor_interval_ms":   fmt.Sprint(c.EnvSensorIntervalMs),
		"gas_sensor_interval_ms":   fmt.Sprint(c.GasSensorIntervalMs),
		"mag_sensor_interval_ms":   fmt.Sprint(c.MagSensorIntervalMs),
		"power_sensor_interval_ms": fmt.Sprint(c.PowerSensorIntervalMs),
		"beacon_interval_ms":       fmt.Sprint(c.BeaconIntervalMs),
		"beacon_offset_ms":         fmt.Sprint(c.BeaconOffsetMs),
		"audio_enabled":            boolStr(c.AudioEnabled),
		"env_sensor_enabled":       boolStr(c.EnvSensorEnabled),
		"gas_sensor_enabled":       boolStr(c.GasSensorEnabled),
		"mag_sensor_enabled":       boolStr(c.MagSensorEnabled),
		"power_sensor_enabled":     boolStr(c.PowerSensorEnabled),
	}
}

// FromMap applies a persisted option map onto DefaultConfig (persisted
// config is authoritative when present; unmentioned keys keep their
// hard-coded default, per spec.md's design note on mode-table vs. persisted
// config precedence).
func FromMap(m map[string]string) (SensorConfig, error) {
	c := DefaultConfig()
	for k, v := range m {
		next, err := c.Set(k, v)
		if err != nil {
			return c, err
		}
		c = next
	}
	return c, nil
}
