package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type recorderSink struct {
	sampleRate int

	mu        sync.Mutex
	recording bool
	samples   []float64
}

func newRecorderSink(sampleRate int) *recorderSink {
	return &recorderSink{sampleRate: sampleRate}
}

func (r *recorderSink) Write(block []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		r.samples = append(r.samples, block...)
	}
}

func (r *recorderSink) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return errors.New("recorder already started")
	}
	r.recording = true
	r.samples = nil
	return nil
}

// Stop detaches the accumulated samples and encodes them.
func (r *recorderSink) Stop(_ context.Context) (*Buffer, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, errors.New("recorder not started")
	}
	r.recording = false
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	blob, err := EncodeWAV(samples, r.sampleRate)
	if err != nil {
		return nil, err
	}
	return &Buffer{Samples: samples, SampleRate: r.sampleRate, Blob: blob}, nil
}

// meterSink keeps the signed peak of the latest block.
type meterSink struct {
	peak atomic.Uint64
}

func (m *meterSink) Write(block []float64) {
	var peak float64
	for _, s := range block {
		if math.Abs(s) > math.Abs(peak) {
			peak = s
		}
	}
	m.peak.Store(math.Float64bits(peak))
}

func (m *meterSink) Read() float64 {
	return math.Float64frombits(m.peak.Load())
}

// player is the engine's Playable.
type player struct {
	engine     *Engine
	samples    []float64
	sampleRate int

	mu      sync.Mutex
	reverse bool
	pos     int
}

func (p *player) PortName() string { return "playable" }

func (p *player) SetReverse(reverse bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reverse = reverse
}

func (p *player) Reverse() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reverse
}

func (p *player) Duration() time.Duration {
	if p.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.samples)) * time.Second / time.Duration(p.sampleRate)
}

func (p *player) Start() error {
	return p.engine.play(p)
}

func (p *player) Stop() error {
	p.engine.pause(p)
	return nil
}

func (p *player) Playing() bool {
	return p.engine.isCurrent(p)
}

// fill copies the next block into dst and reports whether samples remain.
func (p *player) fill(dst []float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.samples)
	for i := range dst {
		if p.pos >= n {
			return false
		}
		idx := p.pos
		if p.reverse {
			idx = n - 1 - p.pos
		}
		dst[i] = p.samples[idx]
		p.pos++
	}
	return p.pos < n
}
