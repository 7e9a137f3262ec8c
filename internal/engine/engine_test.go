package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/hailam/reflex/internal/matrix"
	"github.com/hailam/reflex/internal/model"
	"github.com/hailam/reflex/internal/storage"
	"github.com/hailam/reflex/internal/transport"
)

// diagonal returns a rows×cols matrix with ones on the main diagonal.
func diagonal(t *testing.T, rows, cols uint32) *matrix.Matrix {
	t.Helper()
	m, err := matrix.New(rows, cols)
	if err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < rows && i < cols; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// zeroBiasNetwork chains the given weights with zero biases.
func zeroBiasNetwork(t *testing.T, weights []*matrix.Matrix, acts []model.Activation) *model.Network {
	t.Helper()
	n := model.NewNetwork(true)
	for i, w := range weights {
		b, err := matrix.New(1, w.Cols())
		if err != nil {
			t.Fatal(err)
		}
		n.Weights.PushBack(w)
		n.Biases.PushBack(b)
		n.Activations.PushBack(acts[i])
	}
	return n
}

func TestIdentityNetworkOutputsHalf(t *testing.T) {
	net := zeroBiasNetwork(t,
		[]*matrix.Matrix{diagonal(t, 5, 32), diagonal(t, 32, 4)},
		[]model.Activation{model.Sigmoid, model.Identity})

	l := transport.NewLocal(false)
	e := New(l)
	if err := e.Init(NetworkSource(net)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer e.Unload()

	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	out := e.Output()
	if len(out) != transport.OutputWidth {
		t.Fatalf("output width %d", len(out))
	}
	for i, v := range out {
		if v != 0.5 {
			t.Errorf("output[%d] = %g, expected 0.5", i, v)
		}
	}
	if got := l.Actions(); got != (transport.Actions{Up: true, Down: true, Left: true, Right: true}) {
		t.Errorf("actions %+v, expected all set at the threshold", got)
	}
}

func TestForwardComputesLayers(t *testing.T) {
	// 5→2 relu then 2→4 tanh, with biases.
	w0, _ := matrix.FromSlice(5, 2, []float32{
		1, -1,
		2, 0,
		0, 1,
		-1, 1,
		0.5, 0.5,
	})
	w1, _ := matrix.FromSlice(2, 4, []float32{
		1, 0, -1, 0.5,
		0, 1, 1, 0.5,
	})
	b0, _ := matrix.FromSlice(1, 2, []float32{0.5, -10})
	b1, _ := matrix.FromSlice(1, 4, []float32{0, 0, 0, -1})

	net := model.NewNetwork(true)
	net.Weights.PushBack(w0)
	net.Weights.PushBack(w1)
	net.Biases.PushBack(b0)
	net.Biases.PushBack(b1)
	net.Activations.PushBack(model.ReLU)
	net.Activations.PushBack(model.Tanh)

	l := transport.NewLocal(false)
	l.SetEnvironment(transport.Environment{
		ObstacleDistance: 1,
		ObstacleHeight:   2,
		ObstacleWidth:    3,
		Speed:            4,
		PlayerHeight:     2,
	})
	e := New(l)
	if err := e.Init(NetworkSource(net)); err != nil {
		t.Fatal(err)
	}
	if err := e.Step(); err != nil {
		t.Fatal(err)
	}

	// Hidden: [1+4-4+1+0.5, -1+3+4+1-10] = [2.5, -3] → relu → [2.5, 0].
	h := []float64{2.5, 0}
	want := []float64{
		math.Tanh(h[0]),
		math.Tanh(h[1]),
		math.Tanh(-h[0] + h[1]),
		math.Tanh(0.5*h[0] + 0.5*h[1] - 1),
	}
	for i, v := range e.Output() {
		if math.Abs(float64(v)-want[i]) > 1e-6 {
			t.Errorf("output[%d] = %g, expected %g", i, v, want[i])
		}
	}
	if got := l.Actions(); got != (transport.Actions{Up: true}) {
		t.Errorf("actions %+v", got)
	}
}

func TestInitRejectsShapeContract(t *testing.T) {
	tests := []struct {
		name    string
		weights []*matrix.Matrix
	}{
		{"narrow input", []*matrix.Matrix{diagonal(t, 3, 4)}},
		{"wide output", []*matrix.Matrix{diagonal(t, 5, 8), diagonal(t, 8, 6)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acts := make([]model.Activation, len(tt.weights))
			net := zeroBiasNetwork(t, tt.weights, acts)
			e := New(transport.NewLocal(false))
			err := e.Init(NetworkSource(net))
			if !errors.Is(err, ErrShapeContract) {
				t.Fatalf("err = %v, expected ErrShapeContract", err)
			}
			if e.State() != Uninitialized {
				t.Errorf("state %s after failed init", e.State())
			}
		})
	}
}

func TestInitFromFile(t *testing.T) {
	net, err := model.Random(11)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "net.rflx")
	if err := model.Save(path, net); err != nil {
		t.Fatal(err)
	}

	fromFile := New(transport.NewLocal(false))
	if err := fromFile.Init(FileSource(path)); err != nil {
		t.Fatalf("Init from file: %v", err)
	}
	random := New(transport.NewLocal(false))
	if err := random.Init(RandomSource(11)); err != nil {
		t.Fatal(err)
	}
	fromFile.Step()
	random.Step()
	for i, v := range random.Output() {
		if fromFile.Output()[i] != v {
			t.Errorf("output[%d]: file %g, random %g", i, fromFile.Output()[i], v)
		}
	}

	missing := New(transport.NewLocal(false))
	if err := missing.Init(FileSource(filepath.Join(t.TempDir(), "absent"))); !errors.Is(err, model.ErrModelLoad) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestInitFromArchive(t *testing.T) {
	store, err := storage.Open(t.TempDir(), logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	net, err := model.Random(5)
	if err != nil {
		t.Fatal(err)
	}
	info, err := store.PutModel(net, "random(seed=5)")
	net.Release()
	if err != nil {
		t.Fatal(err)
	}

	archived := New(transport.NewLocal(false))
	src := ArchiveSource(store, info.Checksum)
	if err := archived.Init(src); err != nil {
		t.Fatalf("Init from archive: %v", err)
	}
	if got := archived.Source(); got != src.String() {
		t.Errorf("source %q, expected %q", got, src)
	}
	random := New(transport.NewLocal(false))
	if err := random.Init(RandomSource(5)); err != nil {
		t.Fatal(err)
	}
	archived.Step()
	random.Step()
	for i, v := range random.Output() {
		if archived.Output()[i] != v {
			t.Errorf("output[%d]: archive %g, random %g", i, archived.Output()[i], v)
		}
	}

	missing := New(transport.NewLocal(false))
	if err := missing.Init(ArchiveSource(store, "0000000000000000")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown checksum err = %v, expected ErrNotFound", err)
	}
	if missing.State() != Uninitialized {
		t.Errorf("state %s after failed init", missing.State())
	}
}

// brokenNetwork has layers that do not chain: 5→3 followed by 2→4.
func brokenNetwork(t *testing.T) *model.Network {
	return zeroBiasNetwork(t,
		[]*matrix.Matrix{diagonal(t, 5, 3), diagonal(t, 2, 4)},
		[]model.Activation{model.Identity, model.Sigmoid})
}

func TestSoftFailLeavesBufferUntouched(t *testing.T) {
	e := New(transport.NewLocal(false))
	if err := e.Init(NetworkSource(brokenNetwork(t))); err != nil {
		t.Fatalf("permissive Init: %v", err)
	}
	if err := e.Step(); err != nil {
		t.Fatalf("permissive Step: %v", err)
	}
	for i, v := range e.Output() {
		if v != 0 {
			t.Errorf("output[%d] = %g, expected untouched zero", i, v)
		}
	}
}

func TestStrictModeRejectsMismatch(t *testing.T) {
	e := New(transport.NewLocal(false), WithStrict(true))
	err := e.Init(NetworkSource(brokenNetwork(t)))
	if !errors.Is(err, ErrShape) {
		t.Fatalf("err = %v, expected ErrShape", err)
	}
	if !errors.Is(err, model.ErrInvalidNetwork) {
		t.Errorf("err = %v, expected the validation error to stay in the chain", err)
	}
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Errorf("err = %T, expected *ShapeError", err)
	}
	if e.State() != Uninitialized {
		t.Errorf("state %s", e.State())
	}
}

func TestInitRejectsMiscountedLayers(t *testing.T) {
	tests := []struct {
		name   string
		biases int
		acts   int
	}{
		{"one bias and one activation", 1, 1},
		{"one activation", 2, 1},
		{"one bias", 1, 2},
		{"extra activation", 2, 3},
	}
	for _, tt := range tests {
		for _, strict := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/strict=%v", tt.name, strict), func(t *testing.T) {
				net := model.NewNetwork(true)
				for _, w := range []*matrix.Matrix{diagonal(t, 5, 32), diagonal(t, 32, 4)} {
					net.Weights.PushBack(w)
				}
				for i := 0; i < tt.biases; i++ {
					w, _ := net.Weights.Get(i)
					net.Biases.PushBack(diagonal(t, 1, w.Cols()))
				}
				for i := 0; i < tt.acts; i++ {
					net.Activations.PushBack(model.Sigmoid)
				}

				e := New(transport.NewLocal(false), WithStrict(strict))
				err := e.Init(NetworkSource(net))
				if !errors.Is(err, model.ErrInvalidNetwork) {
					t.Fatalf("err = %v, expected ErrInvalidNetwork", err)
				}
				if e.State() != Uninitialized {
					t.Errorf("state %s after failed init", e.State())
				}
				if e.Network() != nil {
					t.Error("engine kept the rejected network")
				}
			})
		}
	}
}

func TestExitRequestTerminates(t *testing.T) {
	l := transport.NewLocal(true)
	e := New(l)
	if err := e.Init(RandomSource(1)); err != nil {
		t.Fatal(err)
	}
	if err := e.Step(); err != nil {
		t.Fatal(err)
	}
	if !l.Alive() {
		t.Error("alive flag not set while running")
	}

	l.RequestExit()
	if err := e.Step(); err != nil {
		t.Fatal(err)
	}
	if e.State() != Terminating {
		t.Errorf("state %s after exit request", e.State())
	}
	if got := e.Stats().Cycles; got != 1 {
		t.Errorf("cycles = %d, expected the exit cycle not to count", got)
	}
	if err := e.Step(); !errors.Is(err, ErrState) {
		t.Errorf("Step while terminating err = %v", err)
	}
}

func TestRunStopsBetweenCycles(t *testing.T) {
	l := transport.NewLocal(true)
	var e *Engine
	e = New(l, WithCycleHook(func(info CycleInfo) {
		if !l.Alive() {
			t.Error("alive flag not set during run")
		}
		if info.Cycle == 3 {
			e.Stop()
		}
	}))
	if err := e.Init(RandomSource(2)); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.Stats().Cycles; got != 3 {
		t.Errorf("cycles = %d, expected 3", got)
	}
	if e.State() != Terminating {
		t.Errorf("state %s", e.State())
	}
	if l.Alive() {
		t.Error("alive flag still set after run")
	}
}

func TestRunHonorsContext(t *testing.T) {
	e := New(transport.NewLocal(false), WithInterval(time.Millisecond))
	if err := e.Init(RandomSource(3)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if e.Stats().Cycles == 0 {
		t.Error("no cycles ran before cancellation")
	}
}

func TestRunEndsOnExitRequest(t *testing.T) {
	l := transport.NewLocal(true)
	l.RequestExit()
	e := New(l)
	if err := e.Init(RandomSource(4)); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.State() != Terminating || e.Stats().Cycles != 0 {
		t.Errorf("state %s, cycles %d", e.State(), e.Stats().Cycles)
	}
}

func TestUnload(t *testing.T) {
	e := New(transport.NewLocal(false))
	if err := e.Init(RandomSource(5)); err != nil {
		t.Fatal(err)
	}
	net := e.Network()
	e.Unload()

	if e.State() != Unloaded {
		t.Errorf("state %s", e.State())
	}
	if e.Network() != nil || e.Output() != nil {
		t.Error("engine still exposes released buffers")
	}
	if !net.Weights.Empty() {
		t.Error("weights not released")
	}
	if err := e.Step(); !errors.Is(err, ErrState) {
		t.Errorf("Step after unload err = %v", err)
	}
	if err := e.Init(RandomSource(5)); !errors.Is(err, ErrState) {
		t.Errorf("Init after unload err = %v", err)
	}
	e.Unload()
}
