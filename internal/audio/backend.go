package audio

import (
	"context"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/fxrecorder/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeMalgo     BackendType = "malgo"
	BackendTypeSynthetic BackendType = "synthetic"
	BackendTypeAuto      BackendType = "auto"
)

// Device is an opened hardware (or simulated) endpoint.
type Device interface {
	Start() error
	Close() error
}

// AudioBackend defines the interface for audio backend implementations
type AudioBackend interface {
	// Open a capture device delivering mono blocks to onData
	OpenInput(ctx context.Context, format Format, onData func(block []float64)) (Device, error)

	// Open a playback device pulling mono blocks from render
	OpenOutput(ctx context.Context, format Format, render func(block []float64)) (Device, error)

	// List available capture sources
	ListSources() ([]string, error)

	// Get the backend type
	GetType() BackendType
}

// NewDriver creates an Engine on the backend selected by configuration
func NewDriver(cfg *config.Config, logger *slog.Logger) *Engine {
	return NewEngine(FormatFromConfig(cfg), NewBackend(cfg), logger)
}

// NewBackend returns the backend named in the configuration
func NewBackend(cfg *config.Config) AudioBackend {
	switch determineBackend(cfg) {
	case BackendTypeSynthetic:
		return &SyntheticBackend{Frequency: 440, Amplitude: 0.5}
	default:
		return &MalgoBackend{DeviceName: cfg.Audio.Device}
	}
}

// FormatFromConfig extracts the PCM format from the audio section.
func FormatFromConfig(cfg *config.Config) Format {
	return Format{
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		BufferFrames: cfg.Audio.BufferFrames,
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	if cfg.Audio.Backend != "" {
		switch strings.ToLower(cfg.Audio.Backend) {
		case "malgo":
			return BackendTypeMalgo
		case "synthetic":
			return BackendTypeSynthetic
		case "auto":
			return BackendTypeMalgo
		}
	}

	return BackendTypeMalgo
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeMalgo, BackendTypeSynthetic}
}
