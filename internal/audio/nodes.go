package audio

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/effects"
	"github.com/cwbudde/algo-dsp/dsp/effects/modulation"
	"github.com/cwbudde/algo-dsp/dsp/effects/pitch"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// Parameter names understood by the engine's nodes.
const (
	ParamFrequency     = "frequency"
	ParamOctaves       = "octaves"
	ParamBaseFrequency = "base_frequency"
	ParamTime          = "time"
	ParamFeedback      = "feedback"
	ParamMix           = "mix"
	ParamRoomSize      = "room_size"
	ParamDamp          = "damp"
	ParamWet           = "wet"
	ParamDry           = "dry"
	ParamBitDepth      = "bit_depth"
	ParamDownsample    = "downsample"
	ParamQ             = "q"
	ParamSemitones     = "semitones"
)

// phaserCeilingRatio keeps the sweep below the processor's Nyquist guard.
const phaserCeilingRatio = 0.48

// processor adapts one algo-dsp effect to the node parameter model.
type processor interface {
	set(name string, value float64) error
	process(block []float64)
}

func newProcessor(kind NodeKind, sampleRate float64, params Params) (processor, error) {
	var (
		p   processor
		err error
	)
	switch kind {
	case NodePhaser:
		p, err = newPhaserProc(sampleRate, params)
	case NodeDelay:
		p, err = newDelayProc(sampleRate)
	case NodeReverb:
		p = &reverbProc{r: effects.NewReverb()}
	case NodeBitCrusher:
		p, err = newBitCrusherProc(sampleRate)
	case NodeFilter:
		p = newFilterProc(sampleRate)
	case NodePitchShift:
		p, err = newPitchProc(sampleRate)
	default:
		return nil, fmt.Errorf("unknown node kind: %s", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", kind, err)
	}

	// Apply in a stable order so failures are reproducible.
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := p.set(name, params[name]); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", kind, err)
		}
	}
	return p, nil
}

type effectNode struct {
	name string
	kind NodeKind

	mu     sync.Mutex
	proc   processor
	params Params
	bypass atomic.Bool
}

func (n *effectNode) PortName() string { return n.name }

func (n *effectNode) Kind() NodeKind { return n.kind }

func (n *effectNode) SetParameter(name string, value float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.proc.set(name, value); err != nil {
		return fmt.Errorf("%s: %w", n.name, err)
	}
	if n.params == nil {
		n.params = make(Params)
	}
	n.params[name] = value
	return nil
}

// Parameter returns the last value set for name.
func (n *effectNode) Parameter(name string) (float64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.params[name]
	return v, ok
}

func (n *effectNode) SetBypass(bypass bool) {
	n.bypass.Store(bypass)
}

func (n *effectNode) Bypassed() bool {
	return n.bypass.Load()
}

func (n *effectNode) process(block []float64) {
	if n.bypass.Load() {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proc.process(block)
}

type phaserProc struct {
	p          *modulation.Phaser
	sampleRate float64
	octaves    float64
	base       float64
}

func newPhaserProc(sampleRate float64, params Params) (*phaserProc, error) {
	pp := &phaserProc{sampleRate: sampleRate, octaves: 5, base: 1000}
	if v, ok := params[ParamOctaves]; ok {
		pp.octaves = v
	}
	if v, ok := params[ParamBaseFrequency]; ok {
		pp.base = v
	}
	lo, hi, err := pp.sweep(pp.base, pp.octaves)
	if err != nil {
		return nil, err
	}
	p, err := modulation.NewPhaser(sampleRate, modulation.WithPhaserFrequencyRangeHz(lo, hi))
	if err != nil {
		return nil, err
	}
	pp.p = p
	return pp, nil
}

// sweep converts a base frequency and octave span into the allpass range.
func (pp *phaserProc) sweep(base, octaves float64) (float64, float64, error) {
	if base <= 0 || math.IsNaN(base) || math.IsInf(base, 0) {
		return 0, 0, fmt.Errorf("phaser base frequency must be > 0: %f", base)
	}
	if octaves <= 0 || math.IsNaN(octaves) || math.IsInf(octaves, 0) {
		return 0, 0, fmt.Errorf("phaser octaves must be > 0: %f", octaves)
	}
	ceiling := phaserCeilingRatio * pp.sampleRate
	hi := math.Min(base*math.Pow(2, octaves), ceiling)
	if hi <= base {
		return 0, 0, fmt.Errorf("phaser base frequency %.0f Hz exceeds ceiling %.0f Hz", base, ceiling)
	}
	return base, hi, nil
}

func (pp *phaserProc) set(name string, value float64) error {
	switch name {
	case ParamFrequency:
		return pp.p.SetRateHz(value)
	case ParamOctaves, ParamBaseFrequency:
		base, octaves := pp.base, pp.octaves
		if name == ParamOctaves {
			octaves = value
		} else {
			base = value
		}
		lo, hi, err := pp.sweep(base, octaves)
		if err != nil {
			return err
		}
		if err := pp.p.SetFrequencyRangeHz(lo, hi); err != nil {
			return err
		}
		pp.base, pp.octaves = base, octaves
		return nil
	case ParamFeedback:
		return pp.p.SetFeedback(value)
	case ParamMix:
		return pp.p.SetMix(value)
	}
	return fmt.Errorf("unknown phaser parameter: %s", name)
}

func (pp *phaserProc) process(block []float64) {
	_ = pp.p.ProcessInPlace(block)
}

type delayProc struct {
	d *effects.Delay
}

func newDelayProc(sampleRate float64) (*delayProc, error) {
	d, err := effects.NewDelay(sampleRate)
	if err != nil {
		return nil, err
	}
	return &delayProc{d: d}, nil
}

func (dp *delayProc) set(name string, value float64) error {
	switch name {
	case ParamTime:
		return dp.d.SetTime(value)
	case ParamFeedback:
		return dp.d.SetFeedback(value)
	case ParamMix:
		return dp.d.SetMix(value)
	}
	return fmt.Errorf("unknown delay parameter: %s", name)
}

func (dp *delayProc) process(block []float64) {
	dp.d.ProcessInPlace(block)
}

type reverbProc struct {
	r *effects.Reverb
}

func (rp *reverbProc) set(name string, value float64) error {
	if value < 0 || value > 1 || math.IsNaN(value) {
		return fmt.Errorf("reverb %s must be in [0, 1]: %f", name, value)
	}
	switch name {
	case ParamRoomSize:
		rp.r.SetRoomSize(value)
	case ParamDamp:
		rp.r.SetDamp(value)
	case ParamWet:
		rp.r.SetWet(value)
	case ParamDry:
		rp.r.SetDry(value)
	default:
		return fmt.Errorf("unknown reverb parameter: %s", name)
	}
	return nil
}

func (rp *reverbProc) process(block []float64) {
	rp.r.ProcessInPlace(block)
}

type bitCrusherProc struct {
	bc *effects.BitCrusher
}

func newBitCrusherProc(sampleRate float64) (*bitCrusherProc, error) {
	bc, err := effects.NewBitCrusher(sampleRate)
	if err != nil {
		return nil, err
	}
	return &bitCrusherProc{bc: bc}, nil
}

func (bp *bitCrusherProc) set(name string, value float64) error {
	switch name {
	case ParamBitDepth:
		return bp.bc.SetBitDepth(value)
	case ParamDownsample:
		return bp.bc.SetDownsample(int(math.Round(value)))
	case ParamMix:
		return bp.bc.SetMix(value)
	}
	return fmt.Errorf("unknown bitcrusher parameter: %s", name)
}

func (bp *bitCrusherProc) process(block []float64) {
	bp.bc.ProcessInPlace(block)
}

// filterProc is a lowpass biquad redesigned whenever a parameter moves.
type filterProc struct {
	sampleRate float64
	freq       float64
	q          float64
	section    *biquad.Section
}

func newFilterProc(sampleRate float64) *filterProc {
	fp := &filterProc{sampleRate: sampleRate, freq: 1000, q: math.Sqrt2 / 2}
	fp.section = biquad.NewSection(design.Lowpass(fp.freq, fp.q, sampleRate))
	return fp
}

func (fp *filterProc) set(name string, value float64) error {
	switch name {
	case ParamFrequency:
		if value <= 0 || value >= fp.sampleRate/2 || math.IsNaN(value) {
			return fmt.Errorf("filter frequency must be in (0, %.0f): %f", fp.sampleRate/2, value)
		}
		fp.freq = value
	case ParamQ:
		if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("filter q must be > 0: %f", value)
		}
		fp.q = value
	default:
		return fmt.Errorf("unknown filter parameter: %s", name)
	}
	fp.section.Coefficients = design.Lowpass(fp.freq, fp.q, fp.sampleRate)
	return nil
}

func (fp *filterProc) process(block []float64) {
	fp.section.ProcessBlock(block)
}

type pitchProc struct {
	ps *pitch.PitchShifter
}

func newPitchProc(sampleRate float64) (*pitchProc, error) {
	ps, err := pitch.NewPitchShifter(sampleRate)
	if err != nil {
		return nil, err
	}
	return &pitchProc{ps: ps}, nil
}

func (pp *pitchProc) set(name string, value float64) error {
	if name != ParamSemitones {
		return fmt.Errorf("unknown pitchshift parameter: %s", name)
	}
	return pp.ps.SetPitchSemitones(value)
}

func (pp *pitchProc) process(block []float64) {
	pp.ps.ProcessInPlace(block)
}
