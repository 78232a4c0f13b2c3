// Package mock provides an in-memory implementation of [audio.Driver] and the
// handles it hands out, for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	drv := &mock.Driver{}
//	drv.Meter().SetLevel(-0.4)
//	stream, err := drv.OpenMicrophone(ctx)
//	...
//	chain := drv.Chain(drv.Playables[0])
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
)

// ─── Driver ───────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Driver.Connect] invocation.
type ConnectCall struct {
	Src string
	Dst string
}

// CreateNodeCall records the arguments of a single [Driver.CreateNode] invocation.
type CreateNodeCall struct {
	Kind   audio.NodeKind
	Params audio.Params
}

// Driver is a mock implementation of [audio.Driver].
type Driver struct {
	mu sync.Mutex

	// OpenMicrophoneError is returned by OpenMicrophone when set.
	OpenMicrophoneError error

	// CreatePlayableError is returned by CreatePlayable when set.
	CreatePlayableError error

	// CreateNodeErrors makes CreateNode fail for the listed kinds.
	CreateNodeErrors map[audio.NodeKind]error

	// ConnectError is returned by Connect when set.
	ConnectError error

	// Streams holds every stream opened, in order.
	Streams []*Stream

	// Playables holds every playable created, in order.
	Playables []*Playable

	// Nodes holds every node created, in order.
	Nodes []*Node

	// CreateNodeCalls records all CreateNode invocations, including failed ones.
	CreateNodeCalls []CreateNodeCall

	// ConnectCalls records all successful Connect invocations.
	ConnectCalls []ConnectCall

	// Disconnected records the port names passed to Disconnect, in order.
	Disconnected []string

	// CallCountOpenMicrophone records how many times OpenMicrophone was called.
	CallCountOpenMicrophone int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	recorder *RecorderSink
	meter    *MeterSink
	dest     *Port
	edges    map[string]string
}

// OpenMicrophone implements [audio.Driver].
func (d *Driver) OpenMicrophone(_ context.Context) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenMicrophone++
	if d.OpenMicrophoneError != nil {
		return nil, d.OpenMicrophoneError
	}
	s := &Stream{}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// Recorder returns the recording sink handed out by NewRecorder, creating it
// on first use so tests can configure it up front.
func (d *Driver) Recorder() *RecorderSink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recorder == nil {
		d.recorder = &RecorderSink{}
	}
	return d.recorder
}

// Meter returns the meter sink handed out by NewMeter.
func (d *Driver) Meter() *MeterSink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.meter == nil {
		d.meter = &MeterSink{}
	}
	return d.meter
}

// NewRecorder implements [audio.Driver].
func (d *Driver) NewRecorder() audio.RecorderSink {
	return d.Recorder()
}

// NewMeter implements [audio.Driver].
func (d *Driver) NewMeter() audio.MeterSink {
	return d.Meter()
}

// CreatePlayable implements [audio.Driver].
func (d *Driver) CreatePlayable(buf *audio.Buffer) (audio.Playable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreatePlayableError != nil {
		return nil, d.CreatePlayableError
	}
	if buf == nil {
		return nil, errors.New("nil buffer")
	}
	p := &Playable{
		Name:          fmt.Sprintf("playable#%d", len(d.Playables)+1),
		DurationValue: buf.Duration(),
	}
	d.Playables = append(d.Playables, p)
	return p, nil
}

// CreateNode implements [audio.Driver].
func (d *Driver) CreateNode(kind audio.NodeKind, params audio.Params) (audio.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := make(audio.Params, len(params))
	for k, v := range params {
		copied[k] = v
	}
	d.CreateNodeCalls = append(d.CreateNodeCalls, CreateNodeCall{Kind: kind, Params: copied})

	if err := d.CreateNodeErrors[kind]; err != nil {
		return nil, err
	}
	nodeParams := make(audio.Params, len(params))
	for k, v := range params {
		nodeParams[k] = v
	}
	n := &Node{
		Name:      fmt.Sprintf("%s#%d", kind, len(d.Nodes)+1),
		KindValue: kind,
		Params:    nodeParams,
	}
	d.Nodes = append(d.Nodes, n)
	return n, nil
}

// ValidateNode implements [audio.Driver]. It fails for the kinds listed in
// CreateNodeErrors.
func (d *Driver) ValidateNode(kind audio.NodeKind, _ audio.Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CreateNodeErrors[kind]
}

// Connect implements [audio.Driver]. A later connection out of the same port
// replaces the earlier one.
func (d *Driver) Connect(src, dst audio.Port) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ConnectError != nil {
		return d.ConnectError
	}
	if d.edges == nil {
		d.edges = make(map[string]string)
	}
	d.edges[src.PortName()] = dst.PortName()
	d.ConnectCalls = append(d.ConnectCalls, ConnectCall{Src: src.PortName(), Dst: dst.PortName()})
	return nil
}

// Disconnect implements [audio.Driver].
func (d *Driver) Disconnect(src audio.Port) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.edges, src.PortName())
	d.Disconnected = append(d.Disconnected, src.PortName())
}

// Routes returns the number of live connections.
func (d *Driver) Routes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.edges)
}

// Destination implements [audio.Driver].
func (d *Driver) Destination() audio.Port {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dest == nil {
		d.dest = &Port{Name: "destination"}
	}
	return d.dest
}

// Close implements [audio.Driver].
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return nil
}

// Chain follows the recorded connections from start and returns the port
// names visited, start excluded.
func (d *Driver) Chain(start audio.Port) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var chain []string
	name := start.PortName()
	for i := 0; i <= len(d.edges); i++ {
		next, ok := d.edges[name]
		if !ok {
			break
		}
		chain = append(chain, next)
		name = next
	}
	return chain
}

// Port is a named connection endpoint.
type Port struct {
	Name string
}

// PortName implements [audio.Port].
func (p *Port) PortName() string { return p.Name }

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu sync.Mutex

	sinks  []audio.Sink
	closed bool

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Connect implements [audio.Stream].
func (s *Stream) Connect(sink audio.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	s.sinks = append(s.sinks, sink)
	return nil
}

// Disconnect implements [audio.Stream].
func (s *Stream) Disconnect(sink audio.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountDisconnect++
	for i, existing := range s.sinks {
		if existing == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return
		}
	}
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.sinks = nil
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sinks returns the number of connected sinks.
func (s *Stream) Sinks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// Emit delivers block to every connected sink, simulating microphone input.
func (s *Stream) Emit(block []float64) {
	s.mu.Lock()
	sinks := make([]audio.Sink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.Write(block)
	}
}

// ─── Sinks ────────────────────────────────────────────────────────────────────

// RecorderSink is a mock implementation of [audio.RecorderSink].
type RecorderSink struct {
	mu sync.Mutex

	// StartError is returned by Start when set.
	StartError error

	// StopError is returned by Stop when set.
	StopError error

	// SampleRate is reported in the finished buffer. Defaults to 48000.
	SampleRate int

	// StopGate, when non-nil, blocks Stop until it is closed.
	StopGate chan struct{}

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	samples   []float64
	recording bool
}

// Write implements [audio.Sink].
func (r *RecorderSink) Write(block []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		r.samples = append(r.samples, block...)
	}
}

// Start implements [audio.RecorderSink].
func (r *RecorderSink) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStart++
	if r.StartError != nil {
		return r.StartError
	}
	r.recording = true
	r.samples = nil
	return nil
}

// Stop implements [audio.RecorderSink]. It ignores ctx, like a real driver
// that always finishes finalization.
func (r *RecorderSink) Stop(_ context.Context) (*audio.Buffer, error) {
	r.mu.Lock()
	r.CallCountStop++
	gate := r.StopGate
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	if r.StopError != nil {
		return nil, r.StopError
	}
	rate := r.SampleRate
	if rate == 0 {
		rate = 48000
	}
	samples := r.samples
	r.samples = nil
	return &audio.Buffer{Samples: samples, SampleRate: rate, Blob: []byte("RIFF")}, nil
}

// Stops returns CallCountStop under the lock, for polling from tests.
func (r *RecorderSink) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountStop
}

// Recording reports whether the sink is between Start and Stop.
func (r *RecorderSink) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// MeterSink is a mock implementation of [audio.MeterSink] whose reading is
// set by the test.
type MeterSink struct {
	mu sync.Mutex

	level     float64
	readCount int
}

// SetLevel sets the value returned by Read.
func (m *MeterSink) SetLevel(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = v
}

// Write implements [audio.Sink].
func (m *MeterSink) Write([]float64) {}

// Read implements [audio.MeterSink].
func (m *MeterSink) Read() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCount++
	return m.level
}

// ReadCount returns how many times Read was called.
func (m *MeterSink) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCount
}

// ─── Playable ─────────────────────────────────────────────────────────────────

// Playable is a mock implementation of [audio.Playable].
type Playable struct {
	mu sync.Mutex

	Name          string
	DurationValue time.Duration

	// StartError is returned by Start when set.
	StartError error

	// SetReverseCalls records every value passed to SetReverse.
	SetReverseCalls []bool

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	reverse bool
	playing bool
}

// PortName implements [audio.Port].
func (p *Playable) PortName() string { return p.Name }

// SetReverse implements [audio.Playable].
func (p *Playable) SetReverse(reverse bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetReverseCalls = append(p.SetReverseCalls, reverse)
	p.reverse = reverse
}

// Reverse implements [audio.Playable].
func (p *Playable) Reverse() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reverse
}

// Duration implements [audio.Playable].
func (p *Playable) Duration() time.Duration {
	return p.DurationValue
}

// Start implements [audio.Playable].
func (p *Playable) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStart++
	if p.StartError != nil {
		return p.StartError
	}
	p.playing = true
	return nil
}

// Stop implements [audio.Playable].
func (p *Playable) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStop++
	p.playing = false
	return nil
}

// Playing implements [audio.Playable].
func (p *Playable) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// ─── Node ─────────────────────────────────────────────────────────────────────

// SetParameterCall records the arguments of a single [Node.SetParameter] invocation.
type SetParameterCall struct {
	Name  string
	Value float64
}

// Node is a mock implementation of [audio.Node].
type Node struct {
	mu sync.Mutex

	Name      string
	KindValue audio.NodeKind
	Params    audio.Params

	// SetParameterErrors makes SetParameter fail for the listed names.
	SetParameterErrors map[string]error

	// SetParameterCalls records all SetParameter invocations, including failed ones.
	SetParameterCalls []SetParameterCall

	bypass bool
}

// PortName implements [audio.Port].
func (n *Node) PortName() string { return n.Name }

// Kind implements [audio.Node].
func (n *Node) Kind() audio.NodeKind { return n.KindValue }

// SetParameter implements [audio.Node].
func (n *Node) SetParameter(name string, value float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.SetParameterCalls = append(n.SetParameterCalls, SetParameterCall{Name: name, Value: value})
	if err := n.SetParameterErrors[name]; err != nil {
		return err
	}
	if n.Params == nil {
		n.Params = make(audio.Params)
	}
	n.Params[name] = value
	return nil
}

// Parameter implements [audio.Node].
func (n *Node) Parameter(name string) (float64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.Params[name]
	return v, ok
}

// SetBypass implements [audio.Node].
func (n *Node) SetBypass(bypass bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bypass = bypass
}

// Bypassed implements [audio.Node].
func (n *Node) Bypassed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bypass
}

// Compile-time interface assertions.
var (
	_ audio.Driver       = (*Driver)(nil)
	_ audio.Stream       = (*Stream)(nil)
	_ audio.RecorderSink = (*RecorderSink)(nil)
	_ audio.MeterSink    = (*MeterSink)(nil)
	_ audio.Playable     = (*Playable)(nil)
	_ audio.Node         = (*Node)(nil)
)
