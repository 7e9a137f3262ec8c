// Package model reads, writes and generates feed-forward network descriptors.
package model

import (
	"github.com/hailam/reflex/internal/matrix"
	"github.com/hailam/reflex/internal/sequence"
	"github.com/pkg/errors"
)

// ErrInvalidNetwork is returned when a network's layers do not chain together.
var ErrInvalidNetwork = errors.New("model: invalid network")

// Network is a feed-forward pipeline held as three parallel sequences in inference
// order: weight i is n[i]×n[i+1], bias i is 1×n[i+1] and activation i follows it.
// Biases is nil for a network without bias terms.
type Network struct {
	Weights     *sequence.List[*matrix.Matrix]
	Biases      *sequence.List[*matrix.Matrix]
	Activations *sequence.List[Activation]
}

// NewNetwork returns an empty network, with a bias sequence when withBias is set.
func NewNetwork(withBias bool) *Network {
	n := &Network{
		Weights:     sequence.New[*matrix.Matrix](),
		Activations: sequence.New[Activation](),
	}
	if withBias {
		n.Biases = sequence.New[*matrix.Matrix]()
	}
	return n
}

// Layers returns the number of transitions (weight matrices).
func (n *Network) Layers() int {
	return n.Weights.Len()
}

// Shape returns the neuron count of every layer, input first.
func (n *Network) Shape() []uint32 {
	first, ok := n.Weights.Front()
	if !ok {
		return nil
	}
	shape := make([]uint32, 0, n.Weights.Len()+1)
	shape = append(shape, first.Rows())
	n.Weights.ForEach(func(_ int, w *matrix.Matrix) {
		shape = append(shape, w.Cols())
	})
	return shape
}

// InputWidth is the neuron count of the first layer.
func (n *Network) InputWidth() uint32 {
	if w, ok := n.Weights.Front(); ok {
		return w.Rows()
	}
	return 0
}

// OutputWidth is the neuron count of the last layer.
func (n *Network) OutputWidth() uint32 {
	if w, ok := n.Weights.Back(); ok {
		return w.Cols()
	}
	return 0
}

// CheckCounts checks that there is one activation per weight matrix and, when the
// network has biases, one bias per weight matrix. Layer shapes are not examined.
func (n *Network) CheckCounts() error {
	if n.Weights == nil || n.Weights.Empty() {
		return errors.Wrap(ErrInvalidNetwork, "no layers")
	}
	if n.Activations == nil || n.Activations.Len() != n.Weights.Len() {
		return errors.Wrapf(ErrInvalidNetwork, "%d weight matrices but %d activations",
			n.Weights.Len(), lenOf(n.Activations))
	}
	if n.Biases != nil && n.Biases.Len() != n.Weights.Len() {
		return errors.Wrapf(ErrInvalidNetwork, "%d weight matrices but %d biases",
			n.Weights.Len(), n.Biases.Len())
	}
	return nil
}

// Validate checks that consecutive layers chain and that biases and activations line
// up with the weights.
func (n *Network) Validate() error {
	if err := n.CheckCounts(); err != nil {
		return err
	}

	var prev *matrix.Matrix
	for i, w := range n.Weights.All() {
		if prev != nil && prev.Cols() != w.Rows() {
			return errors.Wrapf(ErrInvalidNetwork, "layer %d has %d inputs, layer %d produces %d",
				i, w.Rows(), i-1, prev.Cols())
		}
		if n.Biases != nil {
			b, _ := n.Biases.Get(i)
			if b.Rows() != 1 || b.Cols() != w.Cols() {
				return errors.Wrapf(ErrInvalidNetwork, "bias %d is %dx%d, expected 1x%d",
					i, b.Rows(), b.Cols(), w.Cols())
			}
		}
		prev = w
	}
	for i, a := range n.Activations.All() {
		if !a.Valid() {
			return errors.Wrapf(ErrInvalidNetwork, "activation %d has unknown id %d", i, a)
		}
	}
	return nil
}

// Release frees every matrix the network owns and empties its sequences.
func (n *Network) Release() {
	release := func(m *matrix.Matrix) { m.Release() }
	if n.Weights != nil {
		n.Weights.Destroy(release)
	}
	if n.Biases != nil {
		n.Biases.Destroy(release)
	}
	if n.Activations != nil {
		n.Activations.Destroy(nil)
	}
}

func lenOf[T any](l *sequence.List[T]) int {
	if l == nil {
		return 0
	}
	return l.Len()
}
