package engine

import (
	"fmt"

	"github.com/hailam/reflex/internal/model"
)

// Source supplies the network an engine runs.
type Source struct {
	name string
	load func() (*model.Network, error)
}

func (s Source) String() string { return s.name }

// Load builds the network. The caller owns the result.
func (s Source) Load() (*model.Network, error) { return s.load() }

// Archive looks up a stored network by checksum.
type Archive interface {
	GetModel(checksum string) (*model.Network, error)
}

// ArchiveSource loads the network archived under checksum.
func ArchiveSource(a Archive, checksum string) Source {
	return Source{
		name: "archive(" + checksum + ")",
		load: func() (*model.Network, error) { return a.GetModel(checksum) },
	}
}

// RandomSource generates model.DefaultShape with the given seed.
func RandomSource(seed int64) Source {
	return Source{
		name: fmt.Sprintf("random(seed=%d)", seed),
		load: func() (*model.Network, error) { return model.Random(seed) },
	}
}

// FileSource loads a descriptor from path, biases included.
func FileSource(path string) Source {
	return Source{
		name: "file(" + path + ")",
		load: func() (*model.Network, error) { return model.LoadNetwork(path, true) },
	}
}

// NetworkSource hands an already built network to the engine, which takes ownership
// of it.
func NetworkSource(n *model.Network) Source {
	return Source{
		name: "network",
		load: func() (*model.Network, error) { return n, nil },
	}
}
