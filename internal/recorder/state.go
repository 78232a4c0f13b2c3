// Package recorder holds the recording state machine and the controller that
// drives capture, playback and effects from it.
package recorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/fx"
)

// Status is the lifecycle position of the recorder.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusComplete  Status = "complete"
)

// ErrIllegalTransition is returned for an action not allowed in the current
// status. The state is left unchanged.
var ErrIllegalTransition = errors.New("illegal transition")

// State is an immutable snapshot of the recorder. Transitions return a new
// value.
type State struct {
	Status    Status
	TakeID    string
	StartTime time.Time
	Buffer    *audio.Buffer
	Effects   fx.Config
}

// InitialState returns the idle state with no effects.
func InitialState() State {
	return State{Status: StatusIdle}
}

// Duration returns the length of the finished take, 0 before completion.
func (s State) Duration() time.Duration {
	return s.Buffer.Duration()
}

// Action is an input to Reduce.
type Action interface {
	Name() string
}

// StartAction begins a new take.
type StartAction struct {
	TakeID string
	At     time.Time
}

func (StartAction) Name() string { return "start" }

// StopAction completes the take with its finished buffer.
type StopAction struct {
	Buffer *audio.Buffer
}

func (StopAction) Name() string { return "stop" }

// AbortAction abandons a take whose finalization failed.
type AbortAction struct{}

func (AbortAction) Name() string { return "abort" }

// EffectChangeAction merges Partial into the effect configuration.
type EffectChangeAction struct {
	Partial fx.Config
}

func (EffectChangeAction) Name() string { return "effect-change" }

// Reduce computes the state following action. It has no side effects.
// Unknown actions return s unchanged.
func Reduce(s State, action Action) (State, error) {
	switch a := action.(type) {
	case StartAction:
		if s.Status != StatusIdle && s.Status != StatusComplete {
			return s, illegal(a, s.Status)
		}
		return State{
			Status:    StatusRecording,
			TakeID:    a.TakeID,
			StartTime: a.At,
			Effects:   s.Effects,
		}, nil

	case StopAction:
		if s.Status != StatusRecording {
			return s, illegal(a, s.Status)
		}
		next := s
		next.Status = StatusComplete
		next.Buffer = a.Buffer
		return next, nil

	case AbortAction:
		if s.Status != StatusRecording {
			return s, illegal(a, s.Status)
		}
		return State{Status: StatusIdle, Effects: s.Effects}, nil

	case EffectChangeAction:
		next := s
		next.Effects = s.Effects.Merge(a.Partial)
		return next, nil
	}
	return s, nil
}

func illegal(a Action, from Status) error {
	return fmt.Errorf("%w: %s while %s", ErrIllegalTransition, a.Name(), from)
}
