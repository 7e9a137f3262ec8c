package model

import (
	"math"
	"testing"
)

func TestGeneratorDeterministic(t *testing.T) {
	a, err := Random(7)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Random(7)
	c, _ := Random(8)

	same, differs := true, false
	for i, w := range a.Weights.All() {
		wb, _ := b.Weights.Get(i)
		wc, _ := c.Weights.Get(i)
		same = same && w.Equal(wb)
		differs = differs || !w.Equal(wc)
	}
	if !same {
		t.Error("same seed produced different weights")
	}
	if !differs {
		t.Error("different seeds produced identical weights")
	}
}

func TestRandomNetworkShape(t *testing.T) {
	n, err := Random(1)
	if err != nil {
		t.Fatal(err)
	}
	shape := n.Shape()
	if len(shape) != len(DefaultShape) {
		t.Fatalf("shape %v, expected %v", shape, DefaultShape)
	}
	for i := range shape {
		if shape[i] != DefaultShape[i] {
			t.Fatalf("shape %v, expected %v", shape, DefaultShape)
		}
	}
	if n.InputWidth() != 5 || n.OutputWidth() != 4 {
		t.Errorf("widths %d→%d", n.InputWidth(), n.OutputWidth())
	}
	for i, w := range n.Weights.All() {
		for _, v := range w.Data() {
			if v < -WeightRange || v > WeightRange {
				t.Fatalf("weight %d value %g outside ±%g", i, v, WeightRange)
			}
		}
	}
}

func TestNormalCachesSecondSample(t *testing.T) {
	g := NewGenerator(3)
	first := g.Normal(0, 1)
	if !g.hasSpare {
		t.Fatal("no spare sample cached after the first draw")
	}
	spare := g.spare
	second := g.Normal(0, 1)
	if second != spare {
		t.Errorf("second draw %g, expected cached %g", second, spare)
	}
	if g.hasSpare {
		t.Error("spare still cached after use")
	}
	if first == second {
		t.Error("pair samples are identical")
	}

	// Mean and scale are applied to the cached sample as well.
	g.Normal(0, 1)
	cached := g.spare
	if got := g.Normal(10, 2); got != 10+2*cached {
		t.Errorf("Normal(10, 2) from cache = %g, expected %g", got, 10+2*cached)
	}
}

func TestNormalStatistics(t *testing.T) {
	g := NewGenerator(99)
	const n = 20000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		v := float64(g.Normal(0, BiasStdDev))
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	std := math.Sqrt(sumSq/n - mean*mean)
	if math.Abs(mean) > 0.005 {
		t.Errorf("mean %g, expected ~0", mean)
	}
	if math.Abs(std-BiasStdDev) > 0.005 {
		t.Errorf("stddev %g, expected ~%g", std, BiasStdDev)
	}
}

func TestGeneratorRejectsBadShape(t *testing.T) {
	g := NewGenerator(1)
	if _, err := g.Network([]uint32{5}, nil); err == nil {
		t.Error("single-layer shape accepted")
	}
	if _, err := g.Network([]uint32{5, 4}, []Activation{Sigmoid, ReLU}); err == nil {
		t.Error("mismatched activation count accepted")
	}
	if _, err := g.Network([]uint32{5, 0, 4}, []Activation{Sigmoid, ReLU}); err == nil {
		t.Error("zero-width layer accepted")
	}
}
