// Package engine runs a feed-forward network once per control cycle against the
// environment vector published by a transport.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"github.com/hailam/reflex/internal/matrix"
	"github.com/hailam/reflex/internal/model"
	"github.com/hailam/reflex/internal/sequence"
	"github.com/hailam/reflex/internal/transport"
	"github.com/pkg/errors"
)

// State is the lifecycle phase of an engine.
type State int32

const (
	Uninitialized State = iota
	Running
	Terminating
	Unloaded
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Unloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

var (
	// ErrShapeContract is returned by Init when the network's input or output width
	// differs from the transport's.
	ErrShapeContract = errors.New("engine: network does not match the transport contract")
	// ErrShape is returned in strict mode when a layer operation is rejected.
	ErrShape = errors.New("engine: shape mismatch")
	// ErrState is returned when an operation is not valid in the current state.
	ErrState = errors.New("engine: invalid state")
)

// ShapeError reports a network rejected by strict validation. It matches ErrShape
// and unwraps to the validation error.
type ShapeError struct {
	Err error
}

func (e *ShapeError) Error() string {
	return ErrShape.Error() + ": " + e.Err.Error()
}

func (e *ShapeError) Unwrap() error { return e.Err }

func (e *ShapeError) Is(target error) bool { return target == ErrShape }

// CycleInfo describes one completed control cycle.
type CycleInfo struct {
	Cycle   uint64
	Latency time.Duration
	Output  []float32 // valid only during the hook call
	Actions transport.Actions
}

// Stats is a snapshot of engine counters. It may be taken from any goroutine.
type Stats struct {
	State       State
	Cycles      uint64
	LastLatency time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithStrict turns rejected layer operations into errors instead of silently leaving
// the affected buffer untouched.
func WithStrict(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithCycleHook registers f to run after every cycle.
func WithCycleHook(f func(CycleInfo)) Option {
	return func(e *Engine) { e.onCycle = f }
}

// WithInterval sets the minimum period of Run's loop. Zero runs cycles back to back.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// Engine owns a network and its intermediate buffers. Apart from Stop and Stats it
// must be driven from a single goroutine.
type Engine struct {
	transport transport.Transport
	log       logr.Logger
	strict    bool
	interval  time.Duration
	onCycle   func(CycleInfo)

	source  string
	net     *model.Network
	buffers *sequence.List[*matrix.Matrix]
	stages  []stage

	state       atomic.Int32
	stopFlag    atomic.Bool
	cycles      atomic.Uint64
	lastLatency atomic.Int64
}

// New returns an uninitialized engine bound to t.
func New(t transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		transport: t,
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.log.V(1).Info("state change", "from", prev, "to", s)
	}
}

// Network returns the running network, or nil before Init and after Unload.
func (e *Engine) Network() *model.Network {
	return e.net
}

// Init obtains a network from src, allocates one buffer per layer boundary and
// enters Running. A network whose activation or bias count differs from its weight
// count is rejected in every mode; layer chaining is only checked when strict. The engine owns the network from here on, and releases it if
// Init fails.
func (e *Engine) Init(src Source) error {
	if s := e.State(); s != Uninitialized {
		return errors.Wrapf(ErrState, "init in state %s", s)
	}

	net, err := src.load()
	if err != nil {
		return errors.Wrapf(err, "failed to load network from %s", src)
	}
	if net == nil || net.Weights == nil || net.Weights.Empty() {
		if net != nil {
			net.Release()
		}
		return errors.Wrapf(model.ErrInvalidNetwork, "%s supplied no layers", src)
	}
	if err := net.CheckCounts(); err != nil {
		net.Release()
		return errors.Wrapf(err, "%s", src)
	}
	if in, out := net.InputWidth(), net.OutputWidth(); in != transport.InputWidth || out != transport.OutputWidth {
		net.Release()
		return errors.Wrapf(ErrShapeContract, "network maps %d→%d, transport expects %d→%d",
			in, out, transport.InputWidth, transport.OutputWidth)
	}
	if e.strict {
		if err := net.Validate(); err != nil {
			net.Release()
			return &ShapeError{Err: err}
		}
	}

	buffers, stages, err := build(net)
	if err != nil {
		net.Release()
		return err
	}

	e.source = src.String()
	e.net = net
	e.buffers = buffers
	e.stages = stages
	e.stopFlag.Store(false)
	e.setState(Running)

	e.log.Info("network loaded",
		"source", e.source,
		"shape", net.Shape(),
		"parameters", humanize.Comma(int64(parameterCount(net))),
		"bias", net.Biases != nil,
		"strict", e.strict)
	return nil
}

func parameterCount(n *model.Network) int {
	count := sequence.Fold(n.Weights, 0, func(acc int, w *matrix.Matrix) int { return acc + w.Len() })
	if n.Biases != nil {
		count = sequence.Fold(n.Biases, count, func(acc int, b *matrix.Matrix) int { return acc + b.Len() })
	}
	return count
}

// Step runs one control cycle: control flags, environment read, forward pass and
// action write. An exit request moves the engine to Terminating without running the
// network.
func (e *Engine) Step() error {
	if s := e.State(); s != Running {
		return errors.Wrapf(ErrState, "step in state %s", s)
	}
	start := time.Now()

	if e.transport.Managed() {
		exit, err := e.transport.ExitRequested()
		if err != nil {
			return errors.Wrap(err, "failed to read control flags")
		}
		if exit {
			e.log.Info("exit requested by transport")
			e.setState(Terminating)
			return nil
		}
		if err := e.transport.SetAlive(true); err != nil {
			return errors.Wrap(err, "failed to write alive flag")
		}
	}

	input, _ := e.buffers.Front()
	if err := e.transport.ReadEnvironment(input.Data()); err != nil {
		return errors.Wrap(err, "failed to read environment")
	}
	if err := e.Forward(); err != nil {
		return err
	}
	output, _ := e.buffers.Back()
	actions := transport.Threshold(output.Data())
	if err := e.transport.WriteActions(actions); err != nil {
		return errors.Wrap(err, "failed to write actions")
	}

	latency := time.Since(start)
	cycle := e.cycles.Add(1)
	e.lastLatency.Store(int64(latency))
	if e.onCycle != nil {
		e.onCycle(CycleInfo{Cycle: cycle, Latency: latency, Output: output.Data(), Actions: actions})
	}
	return nil
}

// Run steps the engine until it leaves Running, Stop is called or ctx is done.
// Stop and ctx are checked between cycles, never during one.
func (e *Engine) Run(ctx context.Context) error {
	if s := e.State(); s != Running {
		return errors.Wrapf(ErrState, "run in state %s", s)
	}
	e.log.Info("control loop started", "managed", e.transport.Managed(), "interval", e.interval)

	var ticker *time.Ticker
	if e.interval > 0 {
		ticker = time.NewTicker(e.interval)
		defer ticker.Stop()
	}

	var err error
	for {
		if e.stopFlag.Load() {
			e.setState(Terminating)
		}
		if ctx.Err() != nil {
			e.setState(Terminating)
		}
		if e.State() != Running {
			break
		}
		if err = e.Step(); err != nil {
			e.setState(Terminating)
			break
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
	}

	if e.transport.Managed() {
		if aerr := e.transport.SetAlive(false); aerr != nil {
			e.log.Error(aerr, "failed to clear alive flag")
		}
	}
	st := e.Stats()
	e.log.Info("control loop stopped", "cycles", humanize.Comma(int64(st.Cycles)), "lastLatency", st.LastLatency)
	return err
}

// Stop asks Run to leave its loop before the next cycle. Safe to call from a signal
// handler goroutine.
func (e *Engine) Stop() {
	e.stopFlag.Store(true)
}

// Unload releases every matrix and sequence the engine owns and enters Unloaded.
// Further calls do nothing.
func (e *Engine) Unload() {
	if e.State() == Unloaded {
		return
	}
	e.stages = nil
	if e.buffers != nil {
		e.buffers.Destroy(func(m *matrix.Matrix) { m.Release() })
		e.buffers = nil
	}
	if e.net != nil {
		e.net.Release()
		e.net = nil
	}
	e.setState(Unloaded)
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		State:       e.State(),
		Cycles:      e.cycles.Load(),
		LastLatency: time.Duration(e.lastLatency.Load()),
	}
}

// Source describes where the running network came from.
func (e *Engine) Source() string {
	return e.source
}
