package capture

import (
	"context"
	"iter"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the cadence at which the level sensor is sampled.
const DefaultInterval = 250 * time.Millisecond

// Sensor is a device-level amplitude reading. It may be signed.
type Sensor interface {
	Read() float64
}

// Reading is one sampled level.
type Reading struct {
	Level float64
	At    time.Time
}

// MeterOption configures a SignalMeter.
type MeterOption func(*SignalMeter)

// WithObserver registers fn to be called with every reading, on the sampling
// goroutine.
func WithObserver(fn func(Reading)) MeterOption {
	return func(m *SignalMeter) {
		m.observer = fn
	}
}

// SignalMeter samples a Sensor on a fixed cadence until stopped.
type SignalMeter struct {
	sensor   Sensor
	interval time.Duration
	observer func(Reading)

	level atomic.Uint64

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	stopped bool
	subs    map[chan Reading]struct{}
}

// NewSignalMeter creates a meter over sensor. A non-positive interval selects
// DefaultInterval.
func NewSignalMeter(sensor Sensor, interval time.Duration, opts ...MeterOption) *SignalMeter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &SignalMeter{
		sensor:   sensor,
		interval: interval,
		subs:     make(map[chan Reading]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Interval returns the sampling cadence.
func (m *SignalMeter) Interval() time.Duration {
	return m.interval
}

// Start launches the sampling goroutine. Starting a running or stopped meter
// does nothing.
func (m *SignalMeter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil || m.stopped {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(m.stop, m.done)
}

func (m *SignalMeter) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			// A tick may race with Stop; never touch the sensor once stop is closed.
			select {
			case <-stop:
				return
			default:
			}
			r := Reading{Level: math.Abs(m.sensor.Read()), At: now}
			m.level.Store(math.Float64bits(r.Level))
			if m.observer != nil {
				m.observer(r)
			}
			m.publish(r)
		}
	}
}

func (m *SignalMeter) publish(r Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		// Slow consumers see the latest value only.
		select {
		case ch <- r:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- r:
			default:
			}
		}
	}
}

// Level returns the most recent reading, 0 before the first sample.
func (m *SignalMeter) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

// Stop cancels sampling and waits for the goroutine to exit. Once Stop
// returns the sensor is never read again.
func (m *SignalMeter) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	stop, done := m.stop, m.done
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	m.mu.Lock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
	m.mu.Unlock()
}

// Readings yields readings as they are sampled until ctx is done, the
// consumer stops, or the meter is stopped.
func (m *SignalMeter) Readings(ctx context.Context) iter.Seq[Reading] {
	return func(yield func(Reading) bool) {
		ch := make(chan Reading, 1)

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.subs[ch] = struct{}{}
		m.mu.Unlock()

		defer func() {
			m.mu.Lock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
			}
			m.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-ch:
				if !ok || !yield(r) {
					return
				}
			}
		}
	}
}
