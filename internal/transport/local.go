package transport

import "sync"

// memRegion is a heap buffer guarded by a mutex.
type memRegion struct {
	mu  sync.Mutex
	buf []byte
}

func newMemRegion(size int) *memRegion {
	return &memRegion{buf: make([]byte, size)}
}

func (r *memRegion) Lock() error   { r.mu.Lock(); return nil }
func (r *memRegion) Unlock() error { r.mu.Unlock(); return nil }
func (r *memRegion) Bytes() []byte { return r.buf }
func (r *memRegion) Close() error  { return nil }

// Local is an in-process transport. The simulation side drives it through
// SetEnvironment, Actions, RequestExit and Alive.
type Local struct {
	*Endpoint
	env *memRegion
	act *memRegion
	ctl *memRegion
}

// NewLocal returns an in-process transport, with a control region when managed is set.
func NewLocal(managed bool) *Local {
	l := &Local{
		env: newMemRegion(EnvironmentSize),
		act: newMemRegion(ActionSize),
	}
	var ctl Region
	if managed {
		l.ctl = newMemRegion(ControlSize)
		ctl = l.ctl
	}
	l.Endpoint = NewEndpoint(l.env, l.act, ctl)
	return l
}

// SetEnvironment publishes e for the next ReadEnvironment.
func (l *Local) SetEnvironment(e Environment) {
	with(l.env, func(buf []byte) error {
		putEnvironment(buf, e)
		return nil
	})
}

// Actions returns the last published action vector.
func (l *Local) Actions() Actions {
	var a Actions
	with(l.act, func(buf []byte) error {
		a = actionsFrom(buf)
		return nil
	})
	return a
}

// RequestExit sets the exit flag. It does nothing on an unmanaged transport.
func (l *Local) RequestExit() {
	if l.ctl == nil {
		return
	}
	with(l.ctl, func(buf []byte) error {
		buf[controlExit] = 1
		return nil
	})
}

// Alive reports the alive flag last written by the engine.
func (l *Local) Alive() bool {
	if l.ctl == nil {
		return false
	}
	var alive bool
	with(l.ctl, func(buf []byte) error {
		alive = buf[controlAlive] != 0
		return nil
	})
	return alive
}
