package matrix

import "github.com/pkg/errors"

// Status reports the outcome of an in-place operation.
type Status uint8

const (
	OK Status = iota
	ShapeMismatch
	OutOfRange
	Aliased
)

// Sentinel errors matching each non-OK status.
var (
	ErrShapeMismatch = errors.New("matrix: shape mismatch")
	ErrOutOfRange    = errors.New("matrix: index out of range")
	ErrAliased       = errors.New("matrix: destination aliases an operand")
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case ShapeMismatch:
		return "shape mismatch"
	case OutOfRange:
		return "out of range"
	case Aliased:
		return "aliased"
	default:
		return "unknown"
	}
}

// Err converts s into an error; OK yields nil.
func (s Status) Err() error {
	switch s {
	case OK:
		return nil
	case ShapeMismatch:
		return ErrShapeMismatch
	case OutOfRange:
		return ErrOutOfRange
	case Aliased:
		return ErrAliased
	default:
		return errors.Errorf("matrix: unknown status %d", s)
	}
}
