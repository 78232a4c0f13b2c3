package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/fx"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
)

// ErrNoPlayable is returned by Play and Pause before a take is complete.
var ErrNoPlayable = errors.New("no completed take to play")

// Capture is the capture session the controller records through.
type Capture interface {
	Ready() bool
	Start() error
	Stop(ctx context.Context) (*audio.Buffer, error)
	Level() float64
}

// Snapshot is a consistent read-only view of the controller.
type Snapshot struct {
	Status    Status        `json:"status"`
	TakeID    string        `json:"take_id,omitempty"`
	StartTime time.Time     `json:"start_time,omitzero"`
	Duration  time.Duration `json:"duration"`
	Effects   fx.Config     `json:"effects"`
	Reverse   bool          `json:"reverse"`
	Playing   bool          `json:"playing"`

	playable audio.Playable
}

// Option configures a Controller.
type Option func(*Controller)

// WithStrict makes Dispatch return illegal transitions instead of ignoring
// them.
func WithStrict(strict bool) Option {
	return func(c *Controller) {
		c.strict = strict
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock replaces time.Now for start timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithGraphOptions configures the effect graph the controller builds.
func WithGraphOptions(opts ...fx.GraphOption) Option {
	return func(c *Controller) {
		c.graphOpts = append(c.graphOpts, opts...)
	}
}

// Controller owns the recorder state and mediates between the capture
// session, the playable take and its effect graph. Transitions are
// serialised; a stop in progress holds off every other transition.
type Controller struct {
	capture   Capture
	driver    audio.Driver
	graph     *fx.Graph
	graphOpts []fx.GraphOption
	metrics   *observe.Metrics
	logger    *slog.Logger
	strict    bool
	now       func() time.Time

	mu       sync.Mutex
	state    State
	playable audio.Playable

	snap atomic.Pointer[Snapshot]
}

// NewController creates an idle controller.
func NewController(capture Capture, driver audio.Driver, opts ...Option) *Controller {
	c := &Controller{
		capture: capture,
		driver:  driver,
		logger:  slog.Default(),
		now:     time.Now,
		state:   InitialState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.graph = fx.NewGraph(driver, append([]fx.GraphOption{fx.WithMetrics(c.metrics)}, c.graphOpts...)...)
	c.publish()
	return c
}

// Snapshot returns the latest published view without waiting on a
// transition in progress.
func (c *Controller) Snapshot() Snapshot {
	s := *c.snap.Load()
	if s.playable != nil {
		s.Reverse = s.playable.Reverse()
		s.Playing = s.playable.Playing()
	}
	return s
}

// State returns the current state. It waits for a transition in progress.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Level returns the latest sampled input magnitude.
func (c *Controller) Level() float64 {
	return c.capture.Level()
}

// Graph returns the effect graph of the current take.
func (c *Controller) Graph() *fx.Graph {
	return c.graph
}

// Start begins a new take from idle or complete. Playback of a previous
// take stops immediately.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Reduce(c.state, StartAction{TakeID: uuid.NewString(), At: c.now()})
	if err != nil {
		c.metrics.RecordIllegalTransition(ctx, "start", string(c.state.Status))
		return err
	}
	if !c.capture.Ready() {
		return fmt.Errorf("cannot start recording: %w", audio.ErrDeviceUnavailable)
	}

	if c.playable != nil && c.playable.Playing() {
		if err := c.playable.Stop(); err != nil {
			c.logger.Warn("failed to stop previous take", "error", err)
		}
	}
	if err := c.capture.Start(); err != nil {
		return fmt.Errorf("cannot start recording: %w", err)
	}

	c.commit(ctx, "start", next)
	c.logger.Info("recording started", "take", next.TakeID)
	return nil
}

// Stop completes the take. It waits for the capture session to finalize the
// buffer, then builds the playable and applies the current effects to it.
func (c *Controller) Stop(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "recorder.stop")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := Reduce(c.state, StopAction{}); err != nil {
		c.metrics.RecordIllegalTransition(ctx, "stop", string(c.state.Status))
		return err
	}

	begin := time.Now()
	buf, err := c.capture.Stop(ctx)
	c.metrics.StopDuration.Record(ctx, time.Since(begin).Seconds())
	if err != nil {
		span.RecordError(err)
		aborted, _ := Reduce(c.state, AbortAction{})
		c.commit(ctx, "abort", aborted)
		return fmt.Errorf("failed to stop recording: %w", err)
	}

	next, err := Reduce(c.state, StopAction{Buffer: buf})
	if err != nil {
		return err
	}
	c.commit(ctx, "stop", next)
	span.SetAttributes(attribute.String("take", next.TakeID), attribute.Int64("duration_ms", next.Duration().Milliseconds()))

	log := observe.Logger(ctx)
	log.Info("recording complete", "take", next.TakeID, "duration", next.Duration())

	playable, err := c.driver.CreatePlayable(buf)
	if err != nil {
		c.graph.Release()
		c.playable = nil
		c.publish()
		return fmt.Errorf("failed to load take: %w", err)
	}
	if err := c.graph.Rebind(playable); err != nil {
		c.playable = nil
		c.publish()
		return fmt.Errorf("failed to route take: %w", err)
	}
	c.playable = playable
	if err := c.graph.Apply(ctx, next.Effects); err != nil {
		c.publish()
		return fmt.Errorf("take recorded without effects: %w", err)
	}
	c.publish()
	return nil
}

// ChangeEffects merges partial into the effect configuration. A merged
// configuration that could not be applied is rejected in every state. Once a
// take is playable the configuration is applied to it; if that fails the
// update is rejected too.
func (c *Controller) ChangeEffects(ctx context.Context, partial fx.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Reduce(c.state, EffectChangeAction{Partial: partial})
	if err != nil {
		return err
	}
	if err := c.graph.Validate(next.Effects); err != nil {
		c.metrics.RecordEffectError(ctx, "validate")
		c.logger.Warn("rejecting effect change", "status", c.state.Status, "error", err)
		return err
	}
	if c.playable != nil && c.state.Status == StatusComplete {
		if err := c.graph.Apply(ctx, next.Effects); err != nil {
			return err
		}
	}
	c.commit(ctx, "effect-change", next)
	return nil
}

// Dispatch routes action to its transition. Unknown actions do nothing.
// Illegal transitions are logged and ignored unless the controller is strict.
func (c *Controller) Dispatch(ctx context.Context, action Action) error {
	var err error
	switch a := action.(type) {
	case StartAction:
		err = c.Start(ctx)
	case StopAction:
		err = c.Stop(ctx)
	case EffectChangeAction:
		err = c.ChangeEffects(ctx, a.Partial)
	default:
		name := "<nil>"
		if action != nil {
			name = action.Name()
		}
		c.logger.Debug("ignoring unknown action", "action", name)
		return nil
	}

	if err != nil && !c.strict && errors.Is(err, ErrIllegalTransition) {
		c.logger.Debug("ignoring illegal transition", "action", action.Name(), "error", err)
		return nil
	}
	return err
}

// Play starts playback of the completed take through its effect graph.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != StatusComplete || c.playable == nil {
		return ErrNoPlayable
	}
	if err := c.playable.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	c.publish()
	return nil
}

// Pause stops playback of the completed take.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != StatusComplete || c.playable == nil {
		return ErrNoPlayable
	}
	if err := c.playable.Stop(); err != nil {
		return fmt.Errorf("failed to pause playback: %w", err)
	}
	c.publish()
	return nil
}

func (c *Controller) commit(ctx context.Context, action string, next State) {
	prev := c.state
	c.state = next
	if prev.Status != next.Status {
		c.metrics.RecordTransition(ctx, action, string(prev.Status), string(next.Status))
	}
	c.publish()
}

// publish makes the current state visible to Snapshot. Callers hold mu.
func (c *Controller) publish() {
	s := &Snapshot{
		Status:    c.state.Status,
		TakeID:    c.state.TakeID,
		StartTime: c.state.StartTime,
		Duration:  c.state.Duration(),
		Effects:   c.state.Effects.Clone(),
	}
	if c.playable != nil && c.state.Status == StatusComplete {
		s.playable = c.playable
	}
	c.snap.Store(s)
}
