package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
)

var (
	// ErrApplyFailed is returned when a configuration could not be applied.
	// The graph is left as it was before the call.
	ErrApplyFailed = errors.New("effect apply failed")
	// ErrUnbound is returned by Apply before a playable has been bound.
	ErrUnbound = errors.New("effect graph has no playable")
)

// Defaults fills phaser parameters a configuration leaves at zero.
type Defaults struct {
	PhaserOctaves       float64
	PhaserBaseFrequency float64
}

// DefaultDefaults returns the phaser sweep of 5 octaves above 1000 Hz.
func DefaultDefaults() Defaults {
	return Defaults{PhaserOctaves: 5, PhaserBaseFrequency: 1000}
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithDefaults overrides the phaser defaults.
func WithDefaults(d Defaults) GraphOption {
	return func(g *Graph) {
		g.defaults = d
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) GraphOption {
	return func(g *Graph) {
		g.metrics = m
	}
}

// Graph is the chain of effect nodes attached to one playable. Nodes are
// created on first activation, kept until the playable is replaced, and
// bypassed rather than removed when their effect is deactivated.
type Graph struct {
	driver   audio.Driver
	defaults Defaults
	metrics  *observe.Metrics

	mu       sync.Mutex
	playable audio.Playable
	nodes    map[Stage]audio.Node
	applied  Config
}

// NewGraph creates an unbound graph on driver.
func NewGraph(driver audio.Driver, opts ...GraphOption) *Graph {
	g := &Graph{
		driver:   driver,
		defaults: DefaultDefaults(),
		nodes:    make(map[Stage]audio.Node),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Rebind attaches the graph to a new playable, routed straight to the
// destination. The previous playable and its nodes are disconnected and
// dropped.
func (g *Graph) Rebind(p audio.Playable) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.release()
	if err := g.driver.Connect(p, g.driver.Destination()); err != nil {
		return fmt.Errorf("failed to route playable: %w", err)
	}
	g.playable = p
	return nil
}

// Release disconnects the bound playable and its nodes and leaves the graph
// unbound.
func (g *Graph) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release()
}

func (g *Graph) release() {
	if g.playable != nil {
		g.driver.Disconnect(g.playable)
	}
	for _, s := range Stages {
		if node, ok := g.nodes[s]; ok {
			g.driver.Disconnect(node)
		}
	}
	g.playable = nil
	g.nodes = make(map[Stage]audio.Node)
	g.applied = Config{}
}

// Validate reports whether cfg could be applied: every active stage payload
// must be well formed and accepted by the driver.
func (g *Graph) Validate(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrApplyFailed, err)
	}
	for _, s := range Stages {
		params, _, active := cfg.stage(s, g.defaults)
		if !active {
			continue
		}
		if err := g.driver.ValidateNode(s.Kind(), params); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrApplyFailed, s, err)
		}
	}
	return nil
}

// Playable returns the bound playable, or nil.
func (g *Graph) Playable() audio.Playable {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playable
}

// Node returns the node instantiated for s.
func (g *Graph) Node(s Stage) (audio.Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[s]
	return n, ok
}

// Chain returns the instantiated stages in signal order.
func (g *Graph) Chain() []Stage {
	g.mu.Lock()
	defer g.mu.Unlock()

	var chain []Stage
	for _, s := range Stages {
		if _, ok := g.nodes[s]; ok {
			chain = append(chain, s)
		}
	}
	return chain
}

// Applied returns the last configuration applied successfully.
func (g *Graph) Applied() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applied.Clone()
}

type paramChange struct {
	node  audio.Node
	name  string
	prev  float64
	isSet bool
}

// Apply makes the graph reflect cfg. New stages are created and spliced in
// at their fixed position; existing stages have only changed parameters
// updated in place. Applying the same configuration twice changes nothing.
func (g *Graph) Apply(ctx context.Context, cfg Config) (err error) {
	ctx, span := observe.StartSpan(ctx, "fx.apply")
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.playable == nil {
		return ErrUnbound
	}

	var failed Stage
	defer func() {
		if err != nil {
			span.RecordError(err)
			g.metrics.RecordEffectError(ctx, string(failed))
			observe.Logger(ctx).Warn("effect apply failed", "stage", failed, "error", err)
			return
		}
		g.metrics.EffectApplies.Add(ctx, 1)
	}()

	if verr := cfg.Validate(); verr != nil {
		return fmt.Errorf("%w: %w", ErrApplyFailed, verr)
	}

	// Create first: a failure here leaves nothing to undo.
	created := make(map[Stage]audio.Node)
	for _, s := range Stages {
		params, _, active := cfg.stage(s, g.defaults)
		if !active {
			continue
		}
		if _, ok := g.nodes[s]; ok {
			continue
		}
		node, cerr := g.driver.CreateNode(s.Kind(), params)
		if cerr != nil {
			failed = s
			return fmt.Errorf("%w: create %s: %v", ErrApplyFailed, s, cerr)
		}
		created[s] = node
	}

	var changes []paramChange
	for _, s := range Stages {
		node, ok := g.nodes[s]
		if !ok {
			continue
		}
		params, _, active := cfg.stage(s, g.defaults)
		if !active {
			continue
		}
		for _, name := range s.Parameters() {
			want, ok := params[name]
			if !ok {
				continue
			}
			prev, isSet := node.Parameter(name)
			if isSet && prev == want {
				continue
			}
			if serr := node.SetParameter(name, want); serr != nil {
				failed = s
				rollback(changes)
				return fmt.Errorf("%w: set %s %s: %v", ErrApplyFailed, s, name, serr)
			}
			changes = append(changes, paramChange{node: node, name: name, prev: prev, isSet: isSet})
		}
	}

	var spliced []Stage
	for _, s := range Stages {
		node, ok := created[s]
		if !ok {
			continue
		}
		if werr := g.splice(s, node); werr != nil {
			failed = s
			for i := len(spliced) - 1; i >= 0; i-- {
				g.unsplice(spliced[i])
			}
			rollback(changes)
			return fmt.Errorf("%w: connect %s: %v", ErrApplyFailed, s, werr)
		}
		spliced = append(spliced, s)
	}

	for _, s := range Stages {
		node, ok := g.nodes[s]
		if !ok {
			continue
		}
		_, bypass, active := cfg.stage(s, g.defaults)
		bypass = bypass || !active
		if node.Bypassed() != bypass {
			node.SetBypass(bypass)
		}
	}

	if want := cfg.Reversed(); g.playable.Reverse() != want {
		g.playable.SetReverse(want)
	}

	g.applied = cfg.Clone()
	span.SetAttributes(attribute.Int("fx.nodes", len(g.nodes)))
	slog.Debug("effects applied", "created", len(created), "updated", len(changes), "nodes", len(g.nodes))
	return nil
}

// neighbours returns the ports immediately before and after stage s in the
// current chain.
func (g *Graph) neighbours(s Stage) (audio.Port, audio.Port) {
	var up audio.Port = g.playable
	down := g.driver.Destination()

	before := true
	for _, other := range Stages {
		if other == s {
			before = false
			continue
		}
		node, ok := g.nodes[other]
		if !ok {
			continue
		}
		if before {
			up = node
		} else {
			down = node
			break
		}
	}
	return up, down
}

// splice wires node between its neighbours. The node is connected onward
// before anything is routed into it.
func (g *Graph) splice(s Stage, node audio.Node) error {
	up, down := g.neighbours(s)
	if err := g.driver.Connect(node, down); err != nil {
		return err
	}
	if err := g.driver.Connect(up, node); err != nil {
		return err
	}
	g.nodes[s] = node
	return nil
}

func (g *Graph) unsplice(s Stage) {
	delete(g.nodes, s)
	up, down := g.neighbours(s)
	if err := g.driver.Connect(up, down); err != nil {
		slog.Error("failed to restore route", "stage", s, "error", err)
	}
}

func rollback(changes []paramChange) {
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		if !c.isSet {
			continue
		}
		if err := c.node.SetParameter(c.name, c.prev); err != nil {
			slog.Error("failed to restore parameter", "node", c.node.PortName(), "param", c.name, "error", err)
		}
	}
}
