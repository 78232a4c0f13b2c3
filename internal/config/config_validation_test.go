package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadWithProfile_ValidConfig(t *testing.T) {
	validConfig := `
active_config: test

configs:
  default:
    audio:
      backend: synthetic
  test:
    audio:
      sample_rate: 44100
    meter:
      interval: 100ms
    effects:
      phaser_octaves: 3
    recorder:
      strict_transitions: true
`

	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Audio.Backend != "synthetic" {
		t.Errorf("Expected backend 'synthetic', got %s", cfg.Audio.Backend)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Meter.Interval != 100*time.Millisecond {
		t.Errorf("Expected interval 100ms, got %s", cfg.Meter.Interval)
	}
	if cfg.Effects.PhaserOctaves != 3 {
		t.Errorf("Expected phaser octaves 3, got %v", cfg.Effects.PhaserOctaves)
	}
	if cfg.Effects.PhaserBaseFrequency != 1000 {
		t.Errorf("Expected inherited base frequency 1000, got %v", cfg.Effects.PhaserBaseFrequency)
	}
	if !cfg.Recorder.StrictTransitions {
		t.Error("Expected strict transitions to be enabled")
	}
}

func TestLoadWithProfile_InvalidBackend(t *testing.T) {
	invalidConfig := `
configs:
  default:
    audio:
      backend: pulseaudio
`

	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := LoadWithProfile(configFile, "")
	if err == nil {
		t.Fatal("Expected error for invalid backend")
	}
	if !strings.Contains(err.Error(), "audio.backend") {
		t.Errorf("Expected audio.backend error, got: %v", err)
	}
}

func TestLoadWithProfile_InvalidChannels(t *testing.T) {
	invalidConfig := `
configs:
  default:
    audio:
      channels: 6
`

	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := LoadWithProfile(configFile, "")
	if err == nil || !strings.Contains(err.Error(), "audio.channels") {
		t.Errorf("Expected audio.channels error, got: %v", err)
	}
}

func TestLoadWithProfile_MissingFile(t *testing.T) {
	_, err := LoadWithProfile("/nonexistent/fxrecorder.yaml", "")
	if err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestLoadWithProfile_NoFile(t *testing.T) {
	_, err := LoadWithProfile("", "")
	if err == nil {
		t.Error("Expected error when no config file is given")
	}
}

func TestValidate_Defaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Built-in defaults should validate, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 100 }, "audio.sample_rate"},
		{"buffer", func(c *Config) { c.Audio.BufferFrames = 4 }, "audio.buffer_frames"},
		{"interval", func(c *Config) { c.Meter.Interval = 0 }, "meter.interval"},
		{"octaves", func(c *Config) { c.Effects.PhaserOctaves = -1 }, "effects.phaser_octaves"},
		{"base frequency", func(c *Config) { c.Effects.PhaserBaseFrequency = 0 }, "effects.phaser_base_frequency"},
		{"address", func(c *Config) { c.Server.Address = "" }, "server.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %s error, got: %v", tt.want, err)
			}
		})
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: a
configs:
  a:
    audio:
      sample_rate: 44100
  b:
    audio:
      sample_rate: 96000
`)
	defer os.Remove(configFile)

	if err := UpdateActiveConfig(configFile, "b"); err != nil {
		t.Fatalf("UpdateActiveConfig failed: %v", err)
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("LoadWithProfile failed: %v", err)
	}
	if cfg.Audio.SampleRate != 96000 {
		t.Errorf("Expected profile b to be active, got sample rate %d", cfg.Audio.SampleRate)
	}
}

// Helper function to create temporary config files
func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp("", "fxrecorder-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
