package model

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/hailam/reflex/internal/matrix"
	"github.com/pkg/errors"
)

// Default topology used when no descriptor is loaded.
var (
	DefaultShape       = []uint32{5, 32, 4}
	DefaultActivations = []Activation{Sigmoid, Sigmoid}
)

// Initialization parameters for random networks.
const (
	WeightRange = 0.5 // weights drawn from [-WeightRange, WeightRange]
	BiasStdDev  = 0.1 // biases drawn from N(0, BiasStdDev²)
)

// Generator produces reproducible random networks. It keeps the second sample of each
// Box–Muller pair for the next Normal call. A Generator is not safe for concurrent use.
type Generator struct {
	rng      *rand.Rand
	spare    float32
	hasSpare bool
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Uniform returns a value in [lo, hi).
func (g *Generator) Uniform(lo, hi float32) float32 {
	return lo + g.rng.Float32()*(hi-lo)
}

// Normal returns a sample from N(mean, stddev²) using the Box–Muller transform.
func (g *Generator) Normal(mean, stddev float32) float32 {
	if g.hasSpare {
		g.hasSpare = false
		return mean + stddev*g.spare
	}
	// 1-u keeps u1 in (0, 1] so the log is finite.
	u1 := 1 - g.rng.Float32()
	u2 := g.rng.Float32()
	r := math32.Sqrt(-2 * math32.Log(u1))
	theta := 2 * math32.Pi * u2

	g.spare = r * math32.Sin(theta)
	g.hasSpare = true
	return mean + stddev*r*math32.Cos(theta)
}

// Network builds a network of the given shape with uniform weights and normal biases.
func (g *Generator) Network(shape []uint32, acts []Activation) (*Network, error) {
	if len(shape) < 2 {
		return nil, errors.Wrapf(ErrInvalidNetwork, "shape %v needs at least two layers", shape)
	}
	if len(acts) != len(shape)-1 {
		return nil, errors.Wrapf(ErrInvalidNetwork, "shape %v needs %d activations, got %d", shape, len(shape)-1, len(acts))
	}

	n := NewNetwork(true)
	for i := 0; i < len(shape)-1; i++ {
		w, err := matrix.New(shape[i], shape[i+1])
		if err != nil {
			n.Release()
			return nil, errors.Wrapf(err, "layer %d weights", i)
		}
		data := w.Data()
		for j := range data {
			data[j] = g.Uniform(-WeightRange, WeightRange)
		}

		b, err := matrix.New(1, shape[i+1])
		if err != nil {
			w.Release()
			n.Release()
			return nil, errors.Wrapf(err, "layer %d biases", i)
		}
		data = b.Data()
		for j := range data {
			data[j] = g.Normal(0, BiasStdDev)
		}

		n.Weights.PushBack(w)
		n.Biases.PushBack(b)
		n.Activations.PushBack(acts[i])
	}
	if err := n.Validate(); err != nil {
		n.Release()
		return nil, err
	}
	return n, nil
}

// Random returns a network with DefaultShape and DefaultActivations.
func Random(seed int64) (*Network, error) {
	return NewGenerator(seed).Network(DefaultShape, DefaultActivations)
}
