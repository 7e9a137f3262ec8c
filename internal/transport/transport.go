// Package transport exchanges the environment vector, the action vector and the
// control flags with the process driving the simulation.
//
// Each of the three regions is guarded by its own lock. Every access acquires the
// lock, copies in or out, and releases it in a deferred call.
package transport

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Contract widths and thresholds shared with the simulation.
const (
	InputWidth  = 5
	OutputWidth = 4

	// ActivationThreshold is the output value at or above which an action fires.
	ActivationThreshold = 0.5

	EnvironmentSize = InputWidth * 4
	ActionSize      = OutputWidth
	ControlSize     = 2
)

// Control region byte offsets.
const (
	controlExit  = 0
	controlAlive = 1
)

// ErrTransport is matched by every error caused by an unusable region.
var ErrTransport = errors.New("transport: region unavailable")

// Environment is the state vector published by the simulation.
type Environment struct {
	ObstacleDistance float32
	ObstacleHeight   float32
	ObstacleWidth    float32
	Speed            float32
	PlayerHeight     float32
}

// Vector returns the fields in wire order.
func (e Environment) Vector() [InputWidth]float32 {
	return [InputWidth]float32{e.ObstacleDistance, e.ObstacleHeight, e.ObstacleWidth, e.Speed, e.PlayerHeight}
}

// EnvironmentFrom builds an Environment from a wire-order vector.
func EnvironmentFrom(v [InputWidth]float32) Environment {
	return Environment{v[0], v[1], v[2], v[3], v[4]}
}

// Actions is the action vector consumed by the simulation.
type Actions struct {
	Up    bool
	Down  bool
	Left  bool
	Right bool
}

// Threshold converts raw network outputs into actions. Missing outputs stay false.
func Threshold(out []float32) Actions {
	fired := func(i int) bool {
		return i < len(out) && out[i] >= ActivationThreshold
	}
	return Actions{Up: fired(0), Down: fired(1), Left: fired(2), Right: fired(3)}
}

func (a Actions) bytes() [ActionSize]byte {
	var b [ActionSize]byte
	for i, v := range [ActionSize]bool{a.Up, a.Down, a.Left, a.Right} {
		if v {
			b[i] = 1
		}
	}
	return b
}

func actionsFrom(b []byte) Actions {
	return Actions{Up: b[0] != 0, Down: b[1] != 0, Left: b[2] != 0, Right: b[3] != 0}
}

// Transport is the engine's view of the exchange.
type Transport interface {
	// ReadEnvironment copies the environment vector into dst (len InputWidth).
	ReadEnvironment(dst []float32) error
	// WriteActions publishes the thresholded action vector.
	WriteActions(a Actions) error
	// Managed reports whether a control region is attached.
	Managed() bool
	// ExitRequested reads the control region's exit flag. Unmanaged transports
	// always report false.
	ExitRequested() (bool, error)
	// SetAlive writes the control region's alive flag. A no-op when unmanaged.
	SetAlive(alive bool) error
	Close() error
}

// Region is a lockable block of shared bytes.
type Region interface {
	Lock() error
	Unlock() error
	Bytes() []byte
	Close() error
}

// with runs f on r's bytes while holding r's lock.
func with(r Region, f func(buf []byte) error) (err error) {
	if err := r.Lock(); err != nil {
		return errors.Wrap(err, "failed to lock region")
	}
	defer func() {
		if uerr := r.Unlock(); uerr != nil && err == nil {
			err = errors.Wrap(uerr, "failed to unlock region")
		}
	}()
	return f(r.Bytes())
}

// Endpoint implements Transport over three regions. ctl may be nil.
type Endpoint struct {
	env Region
	act Region
	ctl Region
}

// NewEndpoint wires regions into a Transport.
func NewEndpoint(env, act, ctl Region) *Endpoint {
	return &Endpoint{env: env, act: act, ctl: ctl}
}

func (e *Endpoint) ReadEnvironment(dst []float32) error {
	return with(e.env, func(buf []byte) error {
		if len(buf) < EnvironmentSize || len(dst) < InputWidth {
			return errors.Errorf("environment needs %d bytes into %d values, have %d into %d",
				EnvironmentSize, InputWidth, len(buf), len(dst))
		}
		for i := 0; i < InputWidth; i++ {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return nil
	})
}

func (e *Endpoint) WriteActions(a Actions) error {
	b := a.bytes()
	return with(e.act, func(buf []byte) error {
		if len(buf) < ActionSize {
			return errors.Errorf("action region has %d bytes, needs %d", len(buf), ActionSize)
		}
		copy(buf, b[:])
		return nil
	})
}

func (e *Endpoint) Managed() bool { return e.ctl != nil }

func (e *Endpoint) ExitRequested() (bool, error) {
	if e.ctl == nil {
		return false, nil
	}
	var exit bool
	err := with(e.ctl, func(buf []byte) error {
		exit = buf[controlExit] != 0
		return nil
	})
	return exit, err
}

func (e *Endpoint) SetAlive(alive bool) error {
	if e.ctl == nil {
		return nil
	}
	return with(e.ctl, func(buf []byte) error {
		buf[controlAlive] = boolByte(alive)
		return nil
	})
}

// Close closes every region, returning the first error.
func (e *Endpoint) Close() error {
	var first error
	for _, r := range []Region{e.env, e.act, e.ctl} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// putEnvironment encodes e into buf in wire order.
func putEnvironment(buf []byte, e Environment) {
	for i, v := range e.Vector() {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}
