package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the OS refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when no capture or playback device can be acquired.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrStreamClosed is returned when connecting to a closed microphone stream.
	ErrStreamClosed = errors.New("microphone stream closed")
)

// Format describes the PCM layout used by a driver.
type Format struct {
	SampleRate   int
	Channels     int
	BufferFrames int
}

// Buffer is a finished recording. Blob holds the WAV encoding of Samples.
type Buffer struct {
	Samples    []float64
	SampleRate int
	Blob       []byte
}

// Duration returns the playing time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Sink consumes blocks of mono samples from a microphone stream.
type Sink interface {
	Write(block []float64)
}

// Stream is a live microphone connection fanned out to its sinks.
type Stream interface {
	Connect(sink Sink) error
	Disconnect(sink Sink)
	Close() error
}

// RecorderSink accumulates audio between Start and Stop.
type RecorderSink interface {
	Sink
	Start() error
	// Stop finalizes the recording. Once requested, finalization runs to
	// completion; ctx is not used to abandon it.
	Stop(ctx context.Context) (*Buffer, error)
}

// MeterSink reports the signed peak amplitude of the most recent block.
type MeterSink interface {
	Sink
	Read() float64
}

// Port is anything that can take part in a connection: playables, nodes and
// the destination.
type Port interface {
	PortName() string
}

// Playable is an in-memory, device-playable rendering of a Buffer.
type Playable interface {
	Port
	SetReverse(reverse bool)
	Reverse() bool
	Duration() time.Duration
	Start() error
	Stop() error
	Playing() bool
}

// NodeKind identifies an effect processor implementation.
type NodeKind string

const (
	NodePhaser     NodeKind = "phaser"
	NodeDelay      NodeKind = "delay"
	NodeReverb     NodeKind = "reverb"
	NodeBitCrusher NodeKind = "bitcrusher"
	NodeFilter     NodeKind = "filter"
	NodePitchShift NodeKind = "pitchshift"
)

// Params carries numeric node parameters by name.
type Params map[string]float64

// Node is a stateful effect processor wired into the playback path.
type Node interface {
	Port
	Kind() NodeKind
	SetParameter(name string, value float64) error
	Parameter(name string) (float64, bool)
	SetBypass(bypass bool)
	Bypassed() bool
}

// Driver is the device-level library the recorder core is built on.
type Driver interface {
	OpenMicrophone(ctx context.Context) (Stream, error)
	NewRecorder() RecorderSink
	NewMeter() MeterSink
	CreatePlayable(buf *Buffer) (Playable, error)
	CreateNode(kind NodeKind, params Params) (Node, error)
	// ValidateNode reports whether CreateNode would accept kind and params,
	// without creating anything.
	ValidateNode(kind NodeKind, params Params) error
	// Connect routes src into dst, replacing any previous route out of src.
	Connect(src, dst Port) error
	// Disconnect removes the route out of src. A playable that is
	// disconnected also stops.
	Disconnect(src Port)
	Destination() Port
	Close() error
}
