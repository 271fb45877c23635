// Package config loads hvacd's policy from a YAML file, environment
// variables (HVACD_ prefixed, following a config file), and validates
// the result into an immutable hvacmodel.Config. The viper wiring
// mirrors a flat flag-bound Config in the same idiom; hvacd's policy is
// nested (entities, thresholds, schedules) so it is unmarshalled into a
// struct instead of read field-by-field.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/attic-systems/hvacd/internal/hvacmodel"
	"github.com/attic-systems/hvacd/internal/hvaerr"
)

type thresholdsSpec struct {
	IndoorMin  float64 `mapstructure:"indoor_min"`
	IndoorMax  float64 `mapstructure:"indoor_max"`
	OutdoorMin float64 `mapstructure:"outdoor_min"`
	OutdoorMax float64 `mapstructure:"outdoor_max"`
}

type defrostSpec struct {
	OutdoorThresholdC float64 `mapstructure:"outdoor_threshold_c"`
	PeriodMinutes     int     `mapstructure:"period_minutes"`
	DurationMinutes   int     `mapstructure:"duration_minutes"`
}

type heatingSpec struct {
	SetpointC  float64         `mapstructure:"setpoint_c"`
	PresetName string          `mapstructure:"preset_name"`
	Thresholds thresholdsSpec  `mapstructure:"thresholds"`
	Defrost    *defrostSpec    `mapstructure:"defrost"`
}

type coolingSpec struct {
	SetpointC  float64        `mapstructure:"setpoint_c"`
	PresetName string         `mapstructure:"preset_name"`
	Thresholds thresholdsSpec `mapstructure:"thresholds"`
}

type activeHoursSpec struct {
	StartWeekday int `mapstructure:"start_weekday"`
	StartWeekend int `mapstructure:"start_weekend"`
	End          int `mapstructure:"end"`
}

type entitySpec struct {
	ID             string `mapstructure:"id"`
	Enabled        bool   `mapstructure:"enabled"`
	DefrostCapable bool   `mapstructure:"defrost_capable"`
}

type hubSpec struct {
	WSURL                  string `mapstructure:"ws_url"`
	RESTURL                string `mapstructure:"rest_url"`
	BearerToken            string `mapstructure:"bearer_token"`
	MaxInitialRetries      int    `mapstructure:"max_initial_retries"`
	InitialRetryDelayMs    int    `mapstructure:"initial_retry_delay_ms"`
}

// spec is the raw, nested shape of the YAML/env configuration before
// validation and conversion into hvacmodel.Config.
type spec struct {
	TempSensor    string           `mapstructure:"temp_sensor"`
	OutdoorSensor string           `mapstructure:"outdoor_sensor"`
	SystemMode    string           `mapstructure:"system_mode"`
	Entities      []entitySpec     `mapstructure:"entities"`
	Heating       heatingSpec      `mapstructure:"heating"`
	Cooling       coolingSpec      `mapstructure:"cooling"`
	ActiveHours   *activeHoursSpec `mapstructure:"active_hours"`
	Hub           hubSpec          `mapstructure:"hub"`
}

// Load reads the YAML file at path (if non-empty), overlays
// HVACD_-prefixed environment variables, and returns a validated
// hvacmodel.Config.
func Load(path string) (hvacmodel.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HVACD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("system_mode", "auto")
	v.SetDefault("hub.max_initial_retries", 5)
	v.SetDefault("hub.initial_retry_delay_ms", 1000)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return hvacmodel.Config{}, fmt.Errorf("%w: read %s: %v", hvaerr.ErrConfig, path, err)
		}
	}

	var s spec
	if err := v.Unmarshal(&s); err != nil {
		return hvacmodel.Config{}, fmt.Errorf("%w: unmarshal: %v", hvaerr.ErrConfig, err)
	}

	return s.toConfig()
}

func (s spec) toConfig() (hvacmodel.Config, error) {
	mode := hvacmodel.SystemMode(s.SystemMode)
	switch mode {
	case hvacmodel.SystemModeAuto, hvacmodel.SystemModeHeatOnly, hvacmodel.SystemModeCoolOnly, hvacmodel.SystemModeOff:
	default:
		return hvacmodel.Config{}, fmt.Errorf("%w: invalid system_mode %q", hvaerr.ErrConfig, s.SystemMode)
	}

	if s.TempSensor == "" {
		return hvacmodel.Config{}, fmt.Errorf("%w: temp_sensor is required", hvaerr.ErrConfig)
	}
	if s.OutdoorSensor == "" {
		return hvacmodel.Config{}, fmt.Errorf("%w: outdoor_sensor is required", hvaerr.ErrConfig)
	}
	if s.Hub.WSURL == "" || s.Hub.RESTURL == "" {
		return hvacmodel.Config{}, fmt.Errorf("%w: hub.ws_url and hub.rest_url are required", hvaerr.ErrConfig)
	}

	entities := make([]hvacmodel.EntityConfig, 0, len(s.Entities))
	for _, e := range s.Entities {
		if e.ID == "" {
			return hvacmodel.Config{}, fmt.Errorf("%w: entity with empty id", hvaerr.ErrConfig)
		}
		entities = append(entities, hvacmodel.EntityConfig{
			ID:             e.ID,
			Enabled:        e.Enabled,
			DefrostCapable: e.DefrostCapable,
		})
	}

	cfg := hvacmodel.Config{
		TempSensor:    s.TempSensor,
		OutdoorSensor: s.OutdoorSensor,
		SystemMode:    mode,
		Entities:      entities,
		Heating: hvacmodel.HeatingConfig{
			SetpointC:  s.Heating.SetpointC,
			PresetName: s.Heating.PresetName,
			Thresholds: hvacmodel.Thresholds(s.Heating.Thresholds),
			Defrost:    s.Heating.Defrost.toModel(),
		},
		Cooling: hvacmodel.CoolingConfig{
			SetpointC:  s.Cooling.SetpointC,
			PresetName: s.Cooling.PresetName,
			Thresholds: hvacmodel.Thresholds(s.Cooling.Thresholds),
		},
		ActiveHours: s.ActiveHours.toModel(),
		Hub: hvacmodel.HubConfig{
			WSURL:             s.Hub.WSURL,
			RESTURL:           s.Hub.RESTURL,
			BearerToken:       s.Hub.BearerToken,
			MaxInitialRetries: s.Hub.MaxInitialRetries,
			InitialRetryDelay: time.Duration(s.Hub.InitialRetryDelayMs) * time.Millisecond,
		},
	}

	return cfg, nil
}

func (d *defrostSpec) toModel() *hvacmodel.DefrostConfig {
	if d == nil {
		return nil
	}
	return &hvacmodel.DefrostConfig{
		OutdoorThresholdC: d.OutdoorThresholdC,
		Period:            time.Duration(d.PeriodMinutes) * time.Minute,
		Duration:          time.Duration(d.DurationMinutes) * time.Minute,
	}
}

func (a *activeHoursSpec) toModel() *hvacmodel.ActiveHours {
	if a == nil {
		return nil
	}
	return &hvacmodel.ActiveHours{
		StartWeekday: a.StartWeekday,
		StartWeekend: a.StartWeekend,
		End:          a.End,
	}
}
