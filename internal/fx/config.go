// Package fx declares the effect configuration schema and applies it to the
// playback graph of a finished take.
package fx

import (
	"errors"
	"fmt"
	"math"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
)

// ErrInvalidConfig is returned for an effect payload no node could accept.
var ErrInvalidConfig = errors.New("invalid effect configuration")

// Stage is a node-based effect slot.
type Stage string

const (
	StagePhaser     Stage = "phaser"
	StageDelay      Stage = "delay"
	StageReverb     Stage = "reverb"
	StageBitCrusher Stage = "bitcrusher"
	StageFilter     Stage = "filter"
	StagePitchShift Stage = "pitchshift"
)

// Stages is the fixed signal order, playable first to destination last.
var Stages = []Stage{
	StagePhaser,
	StageDelay,
	StageReverb,
	StageBitCrusher,
	StageFilter,
	StagePitchShift,
}

// Kind returns the driver node kind implementing the stage.
func (s Stage) Kind() audio.NodeKind {
	return audio.NodeKind(s)
}

// Parameters lists the node parameters a stage accepts.
func (s Stage) Parameters() []string {
	switch s {
	case StagePhaser:
		return []string{audio.ParamFrequency, audio.ParamOctaves, audio.ParamBaseFrequency}
	case StageDelay:
		return []string{audio.ParamTime, audio.ParamFeedback, audio.ParamMix}
	case StageReverb:
		return []string{audio.ParamRoomSize, audio.ParamDamp, audio.ParamWet, audio.ParamDry}
	case StageBitCrusher:
		return []string{audio.ParamBitDepth, audio.ParamDownsample, audio.ParamMix}
	case StageFilter:
		return []string{audio.ParamFrequency, audio.ParamQ}
	case StagePitchShift:
		return []string{audio.ParamSemitones}
	}
	return nil
}

// PhaserParams configures the phaser. Frequency is the sweep rate; zero
// Octaves or BaseFrequency select the graph defaults.
type PhaserParams struct {
	Frequency     float64 `json:"frequency" yaml:"frequency"`
	Octaves       float64 `json:"octaves,omitempty" yaml:"octaves,omitempty"`
	BaseFrequency float64 `json:"base_frequency,omitempty" yaml:"base_frequency,omitempty"`
	Bypass        bool    `json:"bypass,omitempty" yaml:"bypass,omitempty"`
}

// DelayParams configures the feedback delay. Zero fields keep the node default.
type DelayParams struct {
	Time     float64 `json:"time,omitempty" yaml:"time,omitempty"`
	Feedback float64 `json:"feedback,omitempty" yaml:"feedback,omitempty"`
	Mix      float64 `json:"mix,omitempty" yaml:"mix,omitempty"`
	Bypass   bool    `json:"bypass,omitempty" yaml:"bypass,omitempty"`
}

// ReverbParams configures the room reverb. Zero fields keep the node default.
type ReverbParams struct {
	RoomSize float64 `json:"room_size,omitempty" yaml:"room_size,omitempty"`
	Damp     float64 `json:"damp,omitempty" yaml:"damp,omitempty"`
	Wet      float64 `json:"wet,omitempty" yaml:"wet,omitempty"`
	Dry      float64 `json:"dry,omitempty" yaml:"dry,omitempty"`
	Bypass   bool    `json:"bypass,omitempty" yaml:"bypass,omitempty"`
}

// BitCrusherParams configures the bit crusher. Zero fields keep the node default.
type BitCrusherParams struct {
	BitDepth   float64 `json:"bit_depth,omitempty" yaml:"bit_depth,omitempty"`
	Downsample int     `json:"downsample,omitempty" yaml:"downsample,omitempty"`
	Mix        float64 `json:"mix,omitempty" yaml:"mix,omitempty"`
	Bypass     bool    `json:"bypass,omitempty" yaml:"bypass,omitempty"`
}

// FilterParams configures the lowpass filter.
type FilterParams struct {
	Frequency float64 `json:"frequency" yaml:"frequency"`
	Q         float64 `json:"q,omitempty" yaml:"q,omitempty"`
	Bypass    bool    `json:"bypass,omitempty" yaml:"bypass,omitempty"`
}

// PitchShiftParams configures the pitch shifter.
type PitchShiftParams struct {
	Semitones float64 `json:"semitones" yaml:"semitones"`
	Bypass    bool    `json:"bypass,omitempty" yaml:"bypass,omitempty"`
}

// Config is the effect configuration of a take. A nil field is an inactive
// effect. Reverse is a property of the playable rather than a node.
type Config struct {
	Reverse    *bool             `json:"reverse,omitempty" yaml:"reverse,omitempty"`
	Phaser     *PhaserParams     `json:"phaser,omitempty" yaml:"phaser,omitempty"`
	Delay      *DelayParams      `json:"delay,omitempty" yaml:"delay,omitempty"`
	Reverb     *ReverbParams     `json:"reverb,omitempty" yaml:"reverb,omitempty"`
	BitCrusher *BitCrusherParams `json:"bitcrusher,omitempty" yaml:"bitcrusher,omitempty"`
	Filter     *FilterParams     `json:"filter,omitempty" yaml:"filter,omitempty"`
	PitchShift *PitchShiftParams `json:"pitchshift,omitempty" yaml:"pitchshift,omitempty"`
}

// Merge returns c with every effect present in partial replaced wholesale by
// partial's payload. Neither input is modified.
func (c Config) Merge(partial Config) Config {
	return c.Clone().mergeInto(partial)
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	return Config{}.mergeInto(c)
}

// mergeInto copies every non-nil field of src into c.
func (c Config) mergeInto(src Config) Config {
	if src.Reverse != nil {
		v := *src.Reverse
		c.Reverse = &v
	}
	if src.Phaser != nil {
		v := *src.Phaser
		c.Phaser = &v
	}
	if src.Delay != nil {
		v := *src.Delay
		c.Delay = &v
	}
	if src.Reverb != nil {
		v := *src.Reverb
		c.Reverb = &v
	}
	if src.BitCrusher != nil {
		v := *src.BitCrusher
		c.BitCrusher = &v
	}
	if src.Filter != nil {
		v := *src.Filter
		c.Filter = &v
	}
	if src.PitchShift != nil {
		v := *src.PitchShift
		c.PitchShift = &v
	}
	return c
}

// Reversed reports whether reverse playback is requested.
func (c Config) Reversed() bool {
	return c.Reverse != nil && *c.Reverse
}

// Active lists the stages present in c, in signal order.
func (c Config) Active() []Stage {
	var active []Stage
	for _, s := range Stages {
		if _, _, ok := c.stage(s, Defaults{}); ok {
			active = append(active, s)
		}
	}
	return active
}

// stage returns the node parameters and bypass flag for s, and whether s is
// present at all.
func (c Config) stage(s Stage, d Defaults) (audio.Params, bool, bool) {
	p := audio.Params{}
	set := func(name string, v float64) {
		if v != 0 {
			p[name] = v
		}
	}

	switch s {
	case StagePhaser:
		if c.Phaser == nil {
			return nil, false, false
		}
		octaves, base := c.Phaser.Octaves, c.Phaser.BaseFrequency
		if octaves == 0 {
			octaves = d.PhaserOctaves
		}
		if base == 0 {
			base = d.PhaserBaseFrequency
		}
		p[audio.ParamFrequency] = c.Phaser.Frequency
		set(audio.ParamOctaves, octaves)
		set(audio.ParamBaseFrequency, base)
		return p, c.Phaser.Bypass, true
	case StageDelay:
		if c.Delay == nil {
			return nil, false, false
		}
		set(audio.ParamTime, c.Delay.Time)
		set(audio.ParamFeedback, c.Delay.Feedback)
		set(audio.ParamMix, c.Delay.Mix)
		return p, c.Delay.Bypass, true
	case StageReverb:
		if c.Reverb == nil {
			return nil, false, false
		}
		set(audio.ParamRoomSize, c.Reverb.RoomSize)
		set(audio.ParamDamp, c.Reverb.Damp)
		set(audio.ParamWet, c.Reverb.Wet)
		set(audio.ParamDry, c.Reverb.Dry)
		return p, c.Reverb.Bypass, true
	case StageBitCrusher:
		if c.BitCrusher == nil {
			return nil, false, false
		}
		set(audio.ParamBitDepth, c.BitCrusher.BitDepth)
		set(audio.ParamDownsample, float64(c.BitCrusher.Downsample))
		set(audio.ParamMix, c.BitCrusher.Mix)
		return p, c.BitCrusher.Bypass, true
	case StageFilter:
		if c.Filter == nil {
			return nil, false, false
		}
		p[audio.ParamFrequency] = c.Filter.Frequency
		set(audio.ParamQ, c.Filter.Q)
		return p, c.Filter.Bypass, true
	case StagePitchShift:
		if c.PitchShift == nil {
			return nil, false, false
		}
		p[audio.ParamSemitones] = c.PitchShift.Semitones
		return p, c.PitchShift.Bypass, true
	}
	return nil, false, false
}

// Validate checks the payload of every active stage without touching a
// driver. Zero fields that select a default are accepted.
func (c Config) Validate() error {
	var errs []error
	check := func(s Stage, name string, v, lo, hi float64, loOpen bool) {
		bad := math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi || (loOpen && v == lo)
		if bad {
			errs = append(errs, fmt.Errorf("%w: %s %s out of range: %v", ErrInvalidConfig, s, name, v))
		}
	}
	inf := math.Inf(1)

	if p := c.Phaser; p != nil {
		check(StagePhaser, "frequency", p.Frequency, 0, inf, true)
		check(StagePhaser, "octaves", p.Octaves, 0, inf, false)
		check(StagePhaser, "base_frequency", p.BaseFrequency, 0, inf, false)
	}
	if p := c.Delay; p != nil {
		check(StageDelay, "time", p.Time, 0, inf, false)
		check(StageDelay, "feedback", p.Feedback, 0, 1, false)
		check(StageDelay, "mix", p.Mix, 0, 1, false)
	}
	if p := c.Reverb; p != nil {
		check(StageReverb, "room_size", p.RoomSize, 0, 1, false)
		check(StageReverb, "damp", p.Damp, 0, 1, false)
		check(StageReverb, "wet", p.Wet, 0, 1, false)
		check(StageReverb, "dry", p.Dry, 0, 1, false)
	}
	if p := c.BitCrusher; p != nil {
		check(StageBitCrusher, "bit_depth", p.BitDepth, 0, 32, false)
		check(StageBitCrusher, "downsample", float64(p.Downsample), 0, inf, false)
		check(StageBitCrusher, "mix", p.Mix, 0, 1, false)
	}
	if p := c.Filter; p != nil {
		check(StageFilter, "frequency", p.Frequency, 0, inf, true)
		check(StageFilter, "q", p.Q, 0, inf, false)
	}
	if p := c.PitchShift; p != nil {
		check(StagePitchShift, "semitones", p.Semitones, -inf, inf, false)
	}
	return errors.Join(errs...)
}
