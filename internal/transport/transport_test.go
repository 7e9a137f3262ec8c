package transport

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

func TestThreshold(t *testing.T) {
	tests := []struct {
		name string
		out  []float32
		want Actions
	}{
		{"all low", []float32{0, 0.1, 0.49, -1}, Actions{}},
		{"boundary fires", []float32{0.5, 0.5, 0.5, 0.5}, Actions{true, true, true, true}},
		{"mixed", []float32{0.9, 0.2, 0.7, 0.4999}, Actions{Up: true, Left: true}},
		{"short output", []float32{1}, Actions{Up: true}},
		{"nil", nil, Actions{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Threshold(tt.out); got != tt.want {
				t.Errorf("Threshold(%v) = %+v, expected %+v", tt.out, got, tt.want)
			}
		})
	}
}

func TestLocalExchange(t *testing.T) {
	l := NewLocal(true)
	defer l.Close()

	env := Environment{ObstacleDistance: 12.5, ObstacleHeight: 2, ObstacleWidth: 1.25, Speed: 7, PlayerHeight: -3}
	l.SetEnvironment(env)

	dst := make([]float32, InputWidth)
	if err := l.ReadEnvironment(dst); err != nil {
		t.Fatalf("ReadEnvironment: %v", err)
	}
	if got := EnvironmentFrom([InputWidth]float32(dst)); got != env {
		t.Errorf("read %+v, expected %+v", got, env)
	}

	want := Actions{Up: true, Right: true}
	if err := l.WriteActions(want); err != nil {
		t.Fatalf("WriteActions: %v", err)
	}
	if got := l.Actions(); got != want {
		t.Errorf("actions %+v, expected %+v", got, want)
	}
}

func TestLocalControl(t *testing.T) {
	l := NewLocal(true)
	if !l.Managed() {
		t.Fatal("managed transport reports unmanaged")
	}
	if exit, _ := l.ExitRequested(); exit {
		t.Error("exit requested before any request")
	}
	l.RequestExit()
	if exit, err := l.ExitRequested(); err != nil || !exit {
		t.Errorf("ExitRequested = %v, %v after RequestExit", exit, err)
	}

	if err := l.SetAlive(true); err != nil {
		t.Fatal(err)
	}
	if !l.Alive() {
		t.Error("alive flag not visible")
	}
	l.SetAlive(false)
	if l.Alive() {
		t.Error("alive flag not cleared")
	}
}

func TestUnmanagedIgnoresControl(t *testing.T) {
	l := NewLocal(false)
	l.RequestExit()
	if exit, err := l.ExitRequested(); exit || err != nil {
		t.Errorf("unmanaged ExitRequested = %v, %v", exit, err)
	}
	if err := l.SetAlive(true); err != nil {
		t.Errorf("unmanaged SetAlive: %v", err)
	}
	if l.Alive() {
		t.Error("unmanaged transport reports alive")
	}
}

func TestReadEnvironmentShortBuffer(t *testing.T) {
	l := NewLocal(false)
	if err := l.ReadEnvironment(make([]float32, 2)); err == nil {
		t.Error("short destination accepted")
	}
	// The lock must have been released on the error path.
	if err := l.ReadEnvironment(make([]float32, InputWidth)); err != nil {
		t.Errorf("read after failed read: %v", err)
	}
}

func TestLocalConcurrentAccess(t *testing.T) {
	l := NewLocal(true)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(v float32) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l.SetEnvironment(Environment{v, v, v, v, v})
			}
		}(float32(i))
		go func() {
			defer wg.Done()
			dst := make([]float32, InputWidth)
			for j := 0; j < 200; j++ {
				l.ReadEnvironment(dst)
				for _, x := range dst[1:] {
					if x != dst[0] {
						t.Errorf("torn read %v", dst)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func skipWithoutShm(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shared regions need a unix system")
	}
}

var testNames = Names{Environment: "env", Action: "act", Control: "ctl"}

func TestSharedMemoryExchange(t *testing.T) {
	skipWithoutShm(t)
	dir := t.TempDir()

	sim, err := OpenShared(dir, testNames, true)
	if err != nil {
		t.Fatalf("create regions: %v", err)
	}
	defer sim.Close()

	eng, err := OpenShared(dir, testNames, false)
	if err != nil {
		t.Fatalf("open regions: %v", err)
	}
	defer eng.Close()

	env := Environment{1, 2, 3, 4, 5}
	with(sim.env, func(buf []byte) error {
		putEnvironment(buf, env)
		return nil
	})
	dst := make([]float32, InputWidth)
	if err := eng.ReadEnvironment(dst); err != nil {
		t.Fatalf("ReadEnvironment: %v", err)
	}
	if got := EnvironmentFrom([InputWidth]float32(dst)); got != env {
		t.Errorf("read %+v, expected %+v", got, env)
	}

	if err := eng.WriteActions(Actions{Down: true, Left: true}); err != nil {
		t.Fatal(err)
	}
	var got Actions
	with(sim.act, func(buf []byte) error {
		got = actionsFrom(buf)
		return nil
	})
	if got != (Actions{Down: true, Left: true}) {
		t.Errorf("simulation saw %+v", got)
	}

	with(sim.ctl, func(buf []byte) error {
		buf[controlExit] = 1
		return nil
	})
	if exit, err := eng.ExitRequested(); err != nil || !exit {
		t.Errorf("ExitRequested = %v, %v", exit, err)
	}
	if err := eng.SetAlive(true); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, testNames.Control))
	if err != nil {
		t.Fatal(err)
	}
	if raw[controlAlive] != 1 {
		t.Errorf("alive byte %d in backing file", raw[controlAlive])
	}
}

func TestSharedMemoryMissingRegion(t *testing.T) {
	skipWithoutShm(t)
	_, err := OpenShared(t.TempDir(), testNames, false)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, expected ErrTransport", err)
	}
}

func TestSharedMemoryUndersizedRegion(t *testing.T) {
	skipWithoutShm(t)
	dir := t.TempDir()
	for _, name := range []string{testNames.Environment, testNames.Action, testNames.Control} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0}, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := OpenShared(dir, testNames, false); !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, expected ErrTransport", err)
	}
}

func TestSharedMemoryUnmanaged(t *testing.T) {
	skipWithoutShm(t)
	names := Names{Environment: "env", Action: "act"}
	e, err := OpenShared(t.TempDir(), names, true)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.Managed() {
		t.Error("transport without control region reports managed")
	}
	if _, err := OpenShared(t.TempDir(), Names{Action: "act"}, true); !errors.Is(err, ErrTransport) {
		t.Errorf("missing environment name err = %v", err)
	}
}
