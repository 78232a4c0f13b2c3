package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// SyntheticBackend generates a sine tone instead of reading a microphone and
// renders playback into the void at real-time pace. It needs no hardware.
type SyntheticBackend struct {
	Frequency float64
	Amplitude float64

	// OpenErr, when set, is returned by OpenInput to simulate a refused device.
	OpenErr error
}

func (s *SyntheticBackend) GetType() BackendType {
	return BackendTypeSynthetic
}

func (s *SyntheticBackend) ListSources() ([]string, error) {
	return []string{fmt.Sprintf("synthetic: %.0f Hz sine", s.Frequency)}, nil
}

func (s *SyntheticBackend) OpenInput(ctx context.Context, format Format, onData func(block []float64)) (Device, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	phase := 0.0
	step := 2 * math.Pi * s.Frequency / float64(format.SampleRate)
	return newClockDevice(format, func(block []float64) {
		for i := range block {
			block[i] = s.Amplitude * math.Sin(phase)
			phase += step
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
		onData(block)
	}), nil
}

func (s *SyntheticBackend) OpenOutput(ctx context.Context, format Format, render func(block []float64)) (Device, error) {
	return newClockDevice(format, render), nil
}

// clockDevice invokes tick with one buffer every BufferFrames/SampleRate.
type clockDevice struct {
	period time.Duration
	frames int
	tick   func(block []float64)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func newClockDevice(format Format, tick func(block []float64)) *clockDevice {
	period := time.Duration(float64(format.BufferFrames) / float64(format.SampleRate) * float64(time.Second))
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	return &clockDevice{period: period, frames: format.BufferFrames, tick: tick}
}

func (d *clockDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)

		ticker := time.NewTicker(d.period)
		defer ticker.Stop()

		block := make([]float64, d.frames)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for i := range block {
					block[i] = 0
				}
				d.tick(block)
			}
		}
	}(d.stop, d.done)

	return nil
}

func (d *clockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop == nil {
		return nil
	}
	close(d.stop)
	<-d.done
	d.stop = nil
	return nil
}
