package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/capture"
	"github.com/audiolibrelab/fxrecorder/internal/config"
	"github.com/audiolibrelab/fxrecorder/internal/fx"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
	"github.com/audiolibrelab/fxrecorder/internal/recorder"
)

// ErrInvalidParameter is returned when an intent carries an unusable value.
var ErrInvalidParameter = errors.New("invalid parameter")

// Service represents the user intents the recorder understands
type Service interface {
	// Device operations
	Open(ctx context.Context) error
	Close() error

	// Recording operations
	RecordToggle(ctx context.Context) (recorder.Status, error)

	// Playback operations
	Play() error
	Pause() error

	// Effect operations
	ReverseToggle(ctx context.Context) (bool, error)
	PhaserFrequencyChange(ctx context.Context, hz float64) error
	ChangeEffect(ctx context.Context, partial fx.Config) error

	// Information operations
	Status() StatusInfo
	GetConfig() *config.Config
	GetLastError() string
}

// StatusInfo is the observable state of the recorder
type StatusInfo struct {
	Status    recorder.Status `json:"status"`
	TakeID    string          `json:"take_id,omitempty"`
	StartTime time.Time       `json:"start_time,omitzero"`
	Duration  float64         `json:"duration_seconds"`
	Level     float64         `json:"level"`
	Ready     bool            `json:"ready"`
	Reverse   bool            `json:"reverse"`
	Playing   bool            `json:"playing"`
	Effects   fx.Config       `json:"effects"`
	LastError string          `json:"last_error,omitempty"`
}

// Option configures a RecorderService.
type Option func(*RecorderService)

// WithMetrics sets the metrics sink shared by the session and controller.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *RecorderService) {
		s.metrics = m
	}
}

// WithLogger sets the logger handed to the session and controller.
func WithLogger(logger *slog.Logger) Option {
	return func(s *RecorderService) {
		s.logger = logger
	}
}

// RecorderService is the main service implementation
type RecorderService struct {
	cfg     *config.Config
	driver  audio.Driver
	metrics *observe.Metrics
	logger  *slog.Logger

	session *capture.Session
	ctrl    *recorder.Controller

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a recorder service on driver. The microphone is not opened
// until Open or the first RecordToggle.
func New(cfg *config.Config, driver audio.Driver, opts ...Option) *RecorderService {
	s := &RecorderService{
		cfg:    cfg,
		driver: driver,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.session = capture.NewSession(driver,
		capture.WithInterval(cfg.Meter.Interval),
		capture.WithLogger(s.logger),
		capture.WithLevelObserver(func(r capture.Reading) {
			s.metrics.MeterLevel.Record(context.Background(), r.Level)
		}),
	)
	s.ctrl = recorder.NewController(s.session, driver,
		recorder.WithStrict(cfg.Recorder.StrictTransitions),
		recorder.WithMetrics(s.metrics),
		recorder.WithLogger(s.logger),
		recorder.WithGraphOptions(fx.WithDefaults(fx.Defaults{
			PhaserOctaves:       cfg.Effects.PhaserOctaves,
			PhaserBaseFrequency: cfg.Effects.PhaserBaseFrequency,
		})),
	)
	return s
}

// Open requests the microphone and starts metering.
func (s *RecorderService) Open(ctx context.Context) error {
	if err := s.session.Open(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Microphone unavailable: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// Close releases the microphone and the driver.
func (s *RecorderService) Close() error {
	return errors.Join(s.session.Close(), s.driver.Close())
}

// RecordToggle starts a take when idle or complete and stops it when
// recording. A closed microphone is requested again before starting.
func (s *RecorderService) RecordToggle(ctx context.Context) (recorder.Status, error) {
	snap := s.ctrl.Snapshot()

	var err error
	if snap.Status == recorder.StatusRecording {
		slog.Debug("Service.RecordToggle stopping", "take", snap.TakeID)
		err = s.ctrl.Stop(ctx)
	} else {
		if !s.session.Ready() {
			if err := s.Open(ctx); err != nil {
				return snap.Status, fmt.Errorf("failed to start recording: %w", err)
			}
		}
		err = s.ctrl.Start(ctx)
	}

	status := s.ctrl.Snapshot().Status
	if err != nil {
		s.setLastError(fmt.Sprintf("Record toggle failed: %v", err))
		return status, err
	}
	s.clearLastError()
	return status, nil
}

// Play starts playback of the completed take
func (s *RecorderService) Play() error {
	return s.track("Playback failed", s.ctrl.Play())
}

// Pause stops playback of the completed take
func (s *RecorderService) Pause() error {
	return s.track("Pause failed", s.ctrl.Pause())
}

// ReverseToggle flips reverse playback and returns the new setting.
func (s *RecorderService) ReverseToggle(ctx context.Context) (bool, error) {
	reverse := !s.ctrl.Snapshot().Effects.Reversed()
	if err := s.ChangeEffect(ctx, fx.Config{Reverse: &reverse}); err != nil {
		return !reverse, err
	}
	return reverse, nil
}

// PhaserFrequencyChange sets the phaser modulation frequency, activating the
// phaser if needed. Other phaser settings are kept.
func (s *RecorderService) PhaserFrequencyChange(ctx context.Context, hz float64) error {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return fmt.Errorf("%w: phaser frequency %v", ErrInvalidParameter, hz)
	}

	var phaser fx.PhaserParams
	if current := s.ctrl.Snapshot().Effects.Phaser; current != nil {
		phaser = *current
	}
	phaser.Frequency = hz
	return s.ChangeEffect(ctx, fx.Config{Phaser: &phaser})
}

// ChangeEffect merges partial into the effect configuration.
func (s *RecorderService) ChangeEffect(ctx context.Context, partial fx.Config) error {
	return s.track("Effect change failed", s.ctrl.ChangeEffects(ctx, partial))
}

// Status returns the current observable state
func (s *RecorderService) Status() StatusInfo {
	snap := s.ctrl.Snapshot()
	return StatusInfo{
		Status:    snap.Status,
		TakeID:    snap.TakeID,
		StartTime: snap.StartTime,
		Duration:  snap.Duration.Seconds(),
		Level:     s.ctrl.Level(),
		Ready:     s.session.Ready(),
		Reverse:   snap.Reverse,
		Playing:   snap.Playing,
		Effects:   snap.Effects,
		LastError: s.GetLastError(),
	}
}

// GetConfig returns the current configuration
func (s *RecorderService) GetConfig() *config.Config {
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *RecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *RecorderService) track(prefix string, err error) error {
	if err != nil {
		s.setLastError(fmt.Sprintf("%s: %v", prefix, err))
		return err
	}
	s.clearLastError()
	return nil
}

// setLastError sets the last error message (thread-safe)
func (s *RecorderService) setLastError(msg string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = msg

	slog.Error("Service error occurred", "error_message", msg)
}

func (s *RecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

var _ Service = (*RecorderService)(nil)
