// Package capture owns the live microphone link: the recording sink that
// accumulates a take and the metering sink sampled by a SignalMeter.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
)

var (
	// ErrNotOpen is returned when recording is requested before Open succeeded.
	ErrNotOpen = fmt.Errorf("capture session not open: %w", audio.ErrDeviceUnavailable)
	// ErrAlreadyRecording is returned by Start while a take is in progress.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop without a matching Start.
	ErrNotRecording = errors.New("not recording")
)

// Option configures a Session.
type Option func(*Session)

// WithInterval sets the meter sampling cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		s.interval = d
	}
}

// WithLevelObserver forwards every meter reading to fn.
func WithLevelObserver(fn func(Reading)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is the capture session. Its zero state is closed; Open acquires
// the microphone and starts metering, Close releases both.
type Session struct {
	driver   audio.Driver
	interval time.Duration
	observer func(Reading)
	logger   *slog.Logger

	mu        sync.Mutex
	stream    audio.Stream
	recorder  audio.RecorderSink
	meterSink audio.MeterSink
	meter     *SignalMeter
	recording bool
}

// NewSession creates a closed session on driver.
func NewSession(driver audio.Driver, opts ...Option) *Session {
	s := &Session{
		driver:   driver,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open requests the microphone and connects it to the recording and metering
// sinks. On failure nothing is left running. Opening an open session does
// nothing.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return nil
	}

	stream, err := s.driver.OpenMicrophone(ctx)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	recorder := s.driver.NewRecorder()
	meterSink := s.driver.NewMeter()
	if err := stream.Connect(recorder); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to connect recorder: %w", err)
	}
	if err := stream.Connect(meterSink); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to connect meter: %w", err)
	}

	var opts []MeterOption
	if s.observer != nil {
		opts = append(opts, WithObserver(s.observer))
	}
	meter := NewSignalMeter(meterSink, s.interval, opts...)
	meter.Start()

	s.stream = stream
	s.recorder = recorder
	s.meterSink = meterSink
	s.meter = meter

	s.logger.Debug("capture session opened", "interval", s.interval)
	return nil
}

// Ready reports whether the microphone is open.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Recording reports whether a take is in progress.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Start begins accumulating audio into the recording sink.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return ErrNotOpen
	}
	if s.recording {
		return ErrAlreadyRecording
	}
	if err := s.recorder.Start(); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}
	s.recording = true
	return nil
}

// Stop finalizes the take and returns it. The caller is suspended until the
// driver has finished; cancelling ctx does not abandon finalization.
func (s *Session) Stop(ctx context.Context) (*audio.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		return nil, ErrNotRecording
	}
	s.recording = false

	buf, err := s.recorder.Stop(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to finalize recording: %w", err)
	}
	return buf, nil
}

// Level returns the latest meter reading, 0 while closed.
func (s *Session) Level() float64 {
	s.mu.Lock()
	meter := s.meter
	s.mu.Unlock()

	if meter == nil {
		return 0
	}
	return meter.Level()
}

// Meter returns the running meter, or nil while closed.
func (s *Session) Meter() *SignalMeter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meter
}

// Close stops metering, detaches both sinks and releases the microphone. A
// take in progress is discarded. The session may be opened again.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}

	s.meter.Stop()
	s.stream.Disconnect(s.meterSink)
	s.stream.Disconnect(s.recorder)
	err := s.stream.Close()

	if s.recording {
		s.logger.Warn("capture session closed while recording, take discarded")
	}

	s.stream = nil
	s.recorder = nil
	s.meterSink = nil
	s.meter = nil
	s.recording = false

	if err != nil {
		return fmt.Errorf("failed to release microphone: %w", err)
	}
	return nil
}
