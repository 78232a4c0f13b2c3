package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
)

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// ConfigProfile is a named set of overrides. Zero values inherit from the
// default profile, which itself falls back to the built-in defaults.
type ConfigProfile struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Meter     MeterConfig     `mapstructure:"meter" yaml:"meter"`
	Effects   EffectsConfig   `mapstructure:"effects" yaml:"effects"`
	Recorder  RecorderConfig  `mapstructure:"recorder" yaml:"recorder"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Meter     MeterConfig     `mapstructure:"meter" yaml:"meter"`
	Effects   EffectsConfig   `mapstructure:"effects" yaml:"effects"`
	Recorder  RecorderConfig  `mapstructure:"recorder" yaml:"recorder"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Profile is the name of the resolved profile, empty for built-in defaults.
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`

	// Internal field to track inheritance information for the info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// InheritanceInfo maps a dotted setting path ("audio.backend") to
// "inherited" or "profile-specific".
type InheritanceInfo struct {
	Fields map[string]string
}

// Source returns the inheritance status of a setting path.
func (i *InheritanceInfo) Source(path string) string {
	if i == nil {
		return ""
	}
	return i.Fields[path]
}

type AudioConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"` // "malgo", "synthetic", "auto"
	SampleRate   int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels     int    `mapstructure:"channels" yaml:"channels"`
	Device       string `mapstructure:"device" yaml:"device"` // capture device name, empty for system default
	BufferFrames int    `mapstructure:"buffer_frames" yaml:"buffer_frames"`
}

type MeterConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type EffectsConfig struct {
	PhaserOctaves       float64 `mapstructure:"phaser_octaves" yaml:"phaser_octaves"`
	PhaserBaseFrequency float64 `mapstructure:"phaser_base_frequency" yaml:"phaser_base_frequency"`
}

type RecorderConfig struct {
	// StrictTransitions makes illegal state machine actions return errors
	// instead of being logged and ignored.
	StrictTransitions bool `mapstructure:"strict_transitions" yaml:"strict_transitions"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

var defaultConfig = Config{
	Audio: AudioConfig{
		Backend:      "auto",
		SampleRate:   48000,
		Channels:     1,
		BufferFrames: 512,
	},
	Meter: MeterConfig{
		Interval: 250 * time.Millisecond,
	},
	Effects: EffectsConfig{
		PhaserOctaves:       5,
		PhaserBaseFrequency: 1000,
	},
	Server: ServerConfig{
		Address: ":8080",
	},
	Telemetry: TelemetryConfig{
		ServiceName: "fxrecorder",
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	c := defaultConfig
	return &c
}

// DefaultPath returns the config file location used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/fxrecorder.yaml")
}

// LoadWithProfile reads configFile and resolves the requested profile (or the
// file's active_config) over the default profile and built-in defaults.
// A missing file at the default location yields the built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) && configFile == DefaultPath() {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return Resolve(rootConfig, profile)
}

// Resolve picks a profile out of rootConfig and merges it over the default
// profile and the built-in defaults.
func Resolve(rootConfig *RootConfig, profile string) (*Config, error) {
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		if configName != "default" || profile != "" {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
		selected = &ConfigProfile{}
	}

	base := Default()
	if configName != "default" {
		if defaultProfile, ok := rootConfig.Configs["default"]; ok {
			base = mergeConfigs(base, defaultProfile)
		}
	}

	result := mergeConfigs(base, selected)
	result.Profile = configName

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// ReadRootConfig parses configFile with viper. FXRECORDER_* environment
// variables override file values.
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("FXRECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, p := range rootConfig.Configs {
		if p == nil {
			return nil, fmt.Errorf("configs.%s: profile is empty", name)
		}
	}

	return &rootConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays profile on base. Every non-zero profile value wins and
// is recorded as profile-specific; everything else is inherited from base.
func mergeConfigs(base *Config, profile *ConfigProfile) *Config {
	result := *base
	result.Inheritance = &InheritanceInfo{Fields: map[string]string{}}
	track := result.Inheritance.Fields

	overrideString := func(path string, dst *string, v string) {
		track[path] = inherited
		if v != "" {
			*dst = v
			track[path] = profileSpecific
		}
	}
	overrideInt := func(path string, dst *int, v int) {
		track[path] = inherited
		if v != 0 {
			*dst = v
			track[path] = profileSpecific
		}
	}
	overrideFloat := func(path string, dst *float64, v float64) {
		track[path] = inherited
		if v != 0 {
			*dst = v
			track[path] = profileSpecific
		}
	}

	if profile == nil {
		profile = &ConfigProfile{}
	}

	overrideString("audio.backend", &result.Audio.Backend, profile.Audio.Backend)
	overrideInt("audio.sample_rate", &result.Audio.SampleRate, profile.Audio.SampleRate)
	overrideInt("audio.channels", &result.Audio.Channels, profile.Audio.Channels)
	overrideString("audio.device", &result.Audio.Device, profile.Audio.Device)
	overrideInt("audio.buffer_frames", &result.Audio.BufferFrames, profile.Audio.BufferFrames)

	track["meter.interval"] = inherited
	if profile.Meter.Interval != 0 {
		result.Meter.Interval = profile.Meter.Interval
		track["meter.interval"] = profileSpecific
	}

	overrideFloat("effects.phaser_octaves", &result.Effects.PhaserOctaves, profile.Effects.PhaserOctaves)
	overrideFloat("effects.phaser_base_frequency", &result.Effects.PhaserBaseFrequency, profile.Effects.PhaserBaseFrequency)

	// Strict mode can only be switched on by a profile.
	track["recorder.strict_transitions"] = inherited
	if profile.Recorder.StrictTransitions {
		result.Recorder.StrictTransitions = true
		track["recorder.strict_transitions"] = profileSpecific
	}

	overrideString("server.address", &result.Server.Address, profile.Server.Address)
	overrideString("telemetry.service_name", &result.Telemetry.ServiceName, profile.Telemetry.ServiceName)

	return &result
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Audio.Backend) {
	case "auto", "malgo", "synthetic":
	default:
		return fmt.Errorf("audio.backend must be 'auto', 'malgo' or 'synthetic', got: %s", c.Audio.Backend)
	}

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be in [8000, 192000], got: %d", c.Audio.SampleRate)
	}

	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", c.Audio.Channels)
	}

	if c.Audio.BufferFrames < 32 {
		return fmt.Errorf("audio.buffer_frames must be >= 32, got: %d", c.Audio.BufferFrames)
	}

	if c.Meter.Interval <= 0 {
		return fmt.Errorf("meter.interval must be > 0, got: %s", c.Meter.Interval)
	}

	if c.Effects.PhaserOctaves <= 0 {
		return fmt.Errorf("effects.phaser_octaves must be > 0, got: %.2f", c.Effects.PhaserOctaves)
	}

	if c.Effects.PhaserBaseFrequency <= 0 {
		return fmt.Errorf("effects.phaser_base_frequency must be > 0, got: %.2f", c.Effects.PhaserBaseFrequency)
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ExpandConfigPath resolves a leading ~ in a user supplied config path.
func ExpandConfigPath(path string) string {
	return expandPath(path)
}
