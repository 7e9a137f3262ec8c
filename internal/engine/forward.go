package engine

import (
	"github.com/hailam/reflex/internal/matrix"
	"github.com/hailam/reflex/internal/model"
	"github.com/hailam/reflex/internal/sequence"
	"github.com/pkg/errors"
)

// stage is one layer boundary: out = act(in·weight + bias).
type stage struct {
	index  int
	in     *matrix.Matrix
	out    *matrix.Matrix
	weight *matrix.Matrix
	bias   *matrix.Matrix // nil without biases
	act    func(float32) float32
	name   model.Activation
}

// builder collects stages while walking the weight sequence and runs dry on the
// first allocation failure.
type builder struct {
	biases  []*matrix.Matrix
	acts    []model.Activation
	buffers *sequence.List[*matrix.Matrix]
	stages  []stage
	prev    *matrix.Matrix
	err     error
}

func (b *builder) Empty() bool { return b.err != nil }

func (b *builder) add(w *matrix.Matrix) {
	out, err := matrix.New(1, w.Cols())
	if err != nil {
		b.err = errors.Wrapf(err, "buffer %d", len(b.stages)+1)
		return
	}
	i := len(b.stages)
	st := stage{index: i, in: b.prev, out: out, weight: w}
	if i < len(b.biases) {
		st.bias = b.biases[i]
	}
	if i < len(b.acts) {
		st.name = b.acts[i]
	}
	st.act = st.name.Func()

	b.buffers.PushBack(out)
	b.stages = append(b.stages, st)
	b.prev = out
}

// build allocates the input buffer, sized to the network's input width, plus one
// buffer per weight matrix sized to its column count.
func build(net *model.Network) (*sequence.List[*matrix.Matrix], []stage, error) {
	input, err := matrix.New(1, net.InputWidth())
	if err != nil {
		return nil, nil, errors.Wrap(err, "input buffer")
	}
	b := &builder{
		acts:    net.Activations.Values(),
		buffers: sequence.Of(input),
		stages:  make([]stage, 0, net.Layers()),
		prev:    input,
	}
	if net.Biases != nil {
		b.biases = net.Biases.Values()
	}

	sequence.ForEachWith(net.Weights, b, (*builder).add)
	if b.err != nil {
		b.buffers.Destroy(func(m *matrix.Matrix) { m.Release() })
		return nil, nil, b.err
	}
	return b.buffers, b.stages, nil
}

// Forward propagates the input buffer through every stage. A rejected product leaves
// that stage's buffer untouched and a rejected bias add leaves the bare product, so
// later stages see stale values. A strict engine returns ErrShape instead.
func (e *Engine) Forward() error {
	if s := e.State(); s != Running {
		return errors.Wrapf(ErrState, "forward in state %s", s)
	}
	for i := range e.stages {
		st := &e.stages[i]
		if status := matrix.Dot(st.out, st.in, st.weight); status != matrix.OK {
			if e.strict {
				return errors.Wrapf(ErrShape, "layer %d product: %s", st.index, status)
			}
			continue
		}
		if st.bias != nil {
			if status := matrix.Add(st.out, st.out, st.bias); status != matrix.OK && e.strict {
				return errors.Wrapf(ErrShape, "layer %d bias: %s", st.index, status)
			}
		}
		st.out.Apply(st.act)
	}
	return nil
}

// Output returns the final buffer's values, or nil when not running.
func (e *Engine) Output() []float32 {
	if e.buffers == nil {
		return nil
	}
	out, _ := e.buffers.Back()
	return out.Data()
}

// Input returns the first buffer's values so callers can feed the network directly.
func (e *Engine) Input() []float32 {
	if e.buffers == nil {
		return nil
	}
	in, _ := e.buffers.Front()
	return in.Data()
}
