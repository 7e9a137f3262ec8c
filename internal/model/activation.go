package model

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Activation identifies the elementwise nonlinearity applied after a layer's affine
// transform. The numeric values are the on-disk identifiers.
type Activation uint8

const (
	Identity Activation = iota
	Sigmoid
	ReLU
	Tanh

	numActivations
)

// activationTable is indexed by Activation.
var activationTable = [numActivations]func(float32) float32{
	Identity: identity,
	Sigmoid:  sigmoid,
	ReLU:     relu,
	Tanh:     math32.Tanh,
}

var activationNames = [numActivations]string{
	Identity: "identity",
	Sigmoid:  "sigmoid",
	ReLU:     "relu",
	Tanh:     "tanh",
}

func identity(x float32) float32 { return x }

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Valid reports whether a is a known activation.
func (a Activation) Valid() bool {
	return a < numActivations
}

// Func returns the scalar function for a. Unknown values map to identity.
func (a Activation) Func() func(float32) float32 {
	if !a.Valid() {
		return identity
	}
	return activationTable[a]
}

func (a Activation) String() string {
	if !a.Valid() {
		return "unknown"
	}
	return activationNames[a]
}

// ParseActivation maps a name such as "relu" to its Activation.
func ParseActivation(name string) (Activation, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range activationNames {
		if n == name {
			return Activation(i), nil
		}
	}
	return 0, errors.Errorf("unknown activation %q", name)
}
