package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Engine is the software Driver: it fans microphone blocks out to sinks and
// renders playback through a graph of algo-dsp nodes into an output device.
type Engine struct {
	format  Format
	backend AudioBackend
	logger  *slog.Logger

	mu      sync.Mutex
	edges   map[Port]Port
	current *player
	output  Device
	dest    *destination
	nodeSeq int
}

// NewEngine creates an engine on top of backend.
func NewEngine(format Format, backend AudioBackend, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		format:  format,
		backend: backend,
		logger:  logger,
		edges:   make(map[Port]Port),
		dest:    &destination{},
	}
}

// Format returns the PCM format the engine was created with.
func (e *Engine) Format() Format {
	return e.format
}

// Backend returns the device backend.
func (e *Engine) Backend() AudioBackend {
	return e.backend
}

// OpenMicrophone acquires the capture device and starts streaming from it.
func (e *Engine) OpenMicrophone(ctx context.Context) (Stream, error) {
	s := &micStream{}
	dev, err := e.backend.OpenInput(ctx, e.format, s.deliver)
	if err != nil {
		return nil, asDeviceError(err)
	}
	if err := dev.Start(); err != nil {
		_ = dev.Close()
		return nil, asDeviceError(err)
	}
	s.dev = dev

	e.logger.Debug("microphone opened", "backend", e.backend.GetType(), "sample_rate", e.format.SampleRate)
	return s, nil
}

func (e *Engine) NewRecorder() RecorderSink {
	return newRecorderSink(e.format.SampleRate)
}

func (e *Engine) NewMeter() MeterSink {
	return &meterSink{}
}

// CreatePlayable decodes buf into a playable handle. The handle is not routed
// anywhere until connected.
func (e *Engine) CreatePlayable(buf *Buffer) (Playable, error) {
	if buf == nil {
		return nil, errors.New("nil buffer")
	}

	samples, rate := buf.Samples, buf.SampleRate
	if len(buf.Blob) > 0 {
		decoded, decodedRate, err := DecodeWAV(buf.Blob)
		if err != nil {
			return nil, err
		}
		samples, rate = decoded, decodedRate
	}
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", rate)
	}

	return &player{engine: e, samples: samples, sampleRate: rate}, nil
}

// CreateNode builds an effect node of the given kind.
func (e *Engine) CreateNode(kind NodeKind, params Params) (Node, error) {
	proc, err := newProcessor(kind, float64(e.format.SampleRate), params)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.nodeSeq++
	name := fmt.Sprintf("%s#%d", kind, e.nodeSeq)
	e.mu.Unlock()

	initial := make(Params, len(params))
	for k, v := range params {
		initial[k] = v
	}
	return &effectNode{name: name, kind: kind, proc: proc, params: initial}, nil
}

// ValidateNode builds and discards a processor for kind.
func (e *Engine) ValidateNode(kind NodeKind, params Params) error {
	_, err := newProcessor(kind, float64(e.format.SampleRate), params)
	return err
}

func (e *Engine) Connect(src, dst Port) error {
	switch src.(type) {
	case *player, *effectNode:
	default:
		return fmt.Errorf("cannot connect from %s", portName(src))
	}
	switch dst.(type) {
	case *effectNode, *destination:
	default:
		return fmt.Errorf("cannot connect into %s", portName(dst))
	}
	if src == dst {
		return fmt.Errorf("cannot connect %s to itself", src.PortName())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges[src] = dst
	e.logger.Debug("ports connected", "src", src.PortName(), "dst", dst.PortName())
	return nil
}

func (e *Engine) Disconnect(src Port) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.edges, src)
	if p, ok := src.(*player); ok && e.current == p {
		e.current = nil
	}
}

// Routes returns the number of connections held by the engine.
func (e *Engine) Routes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.edges)
}

// Route returns the port src is connected into, or nil.
func (e *Engine) Route(src Port) Port {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edges[src]
}

func (e *Engine) Destination() Port {
	return e.dest
}

// Close stops playback and releases the output device.
func (e *Engine) Close() error {
	e.mu.Lock()
	out := e.output
	e.output = nil
	e.current = nil
	e.mu.Unlock()

	if out != nil {
		return out.Close()
	}
	return nil
}

func (e *Engine) play(p *player) error {
	e.mu.Lock()
	needOutput := e.output == nil
	e.mu.Unlock()

	if needOutput {
		out, err := e.backend.OpenOutput(context.Background(), e.format, e.render)
		if err != nil {
			return asDeviceError(err)
		}
		if err := out.Start(); err != nil {
			_ = out.Close()
			return asDeviceError(err)
		}
		e.mu.Lock()
		if e.output == nil {
			e.output = out
		} else {
			defer out.Close()
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p.mu.Lock()
	p.pos = 0
	p.mu.Unlock()
	e.current = p
	return nil
}

func (e *Engine) pause(p *player) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == p {
		e.current = nil
	}
}

func (e *Engine) isCurrent(p *player) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current == p
}

// render fills out with the current playable pushed through its route.
func (e *Engine) render(out []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.current
	if p == nil {
		return
	}

	block := make([]float64, len(out))
	if !p.fill(block) {
		e.current = nil
	}

	var port Port = p
	for hops := 0; hops <= len(e.edges); hops++ {
		next, ok := e.edges[port]
		if !ok {
			return
		}
		switch n := next.(type) {
		case *effectNode:
			n.process(block)
			port = n
		case *destination:
			for i := range out {
				out[i] += block[i]
			}
			return
		default:
			return
		}
	}
}

func asDeviceError(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

func portName(p Port) string {
	if p == nil {
		return "<nil>"
	}
	return p.PortName()
}

type destination struct{}

func (d *destination) PortName() string { return "destination" }

// micStream fans captured blocks out to connected sinks.
type micStream struct {
	dev Device

	mu     sync.RWMutex
	sinks  []Sink
	closed bool
}

func (s *micStream) deliver(block []float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sink := range s.sinks {
		sink.Write(block)
	}
}

func (s *micStream) Connect(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	for _, existing := range s.sinks {
		if existing == sink {
			return nil
		}
	}
	s.sinks = append(s.sinks, sink)
	return nil
}

// Disconnect detaches sink; once it returns the sink receives no more blocks.
func (s *micStream) Disconnect(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.sinks {
		if existing == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return
		}
	}
}

func (s *micStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sinks = nil
	dev := s.dev
	s.mu.Unlock()

	if dev != nil {
		return dev.Close()
	}
	return nil
}
