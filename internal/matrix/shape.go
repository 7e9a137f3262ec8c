package matrix

import (
	"math"

	"github.com/pkg/errors"
)

// Axis selects row or column orientation for Flatten and Unwrap.
type Axis uint8

const (
	// AxisRow lays elements out as a single row, row-major.
	AxisRow Axis = iota
	// AxisCol lays elements out as a single column, column-major.
	AxisCol
)

// Transpose replaces m with its transpose.
func Transpose(m *Matrix) {
	if m.rows == 1 || m.cols == 1 {
		m.rows, m.cols = m.cols, m.rows
		return
	}
	r, c := int(m.rows), int(m.cols)
	out := make([]float32, len(m.data))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[j*r+i] = m.data[i*c+j]
		}
	}
	m.data = out
	m.rows, m.cols = m.cols, m.rows
}

// Slice copies rows [r0,r1) and columns [c0,c1) of m into a new matrix.
func Slice(m *Matrix, r0, r1, c0, c1 uint32) (*Matrix, error) {
	if r0 >= r1 || c0 >= c1 || r1 > m.rows || c1 > m.cols {
		return nil, errors.Wrapf(ErrAllocation, "slice [%d:%d, %d:%d] of %dx%d", r0, r1, c0, c1, m.rows, m.cols)
	}
	out, err := New(r1-r0, c1-c0)
	if err != nil {
		return nil, err
	}
	w := int(c1 - c0)
	for r := r0; r < r1; r++ {
		start := int(r)*int(m.cols) + int(c0)
		copy(out.data[int(r-r0)*w:], m.data[start:start+w])
	}
	return out, nil
}

// Row copies row i of m into a new 1×cols matrix.
func Row(m *Matrix, i uint32) (*Matrix, error) {
	if i == ^uint32(0) {
		return nil, errors.Wrapf(ErrAllocation, "row %d", i)
	}
	return Slice(m, i, i+1, 0, m.cols)
}

// Col copies column i of m into a new rows×1 matrix.
func Col(m *Matrix, i uint32) (*Matrix, error) {
	if i == ^uint32(0) {
		return nil, errors.Wrapf(ErrAllocation, "col %d", i)
	}
	return Slice(m, 0, m.rows, i, i+1)
}

// Identity returns the dim×dim identity matrix.
func Identity(dim uint32) (*Matrix, error) {
	m, err := New(dim, dim)
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(dim); i++ {
		m.data[i*int(dim)+i] = 1
	}
	return m, nil
}

// Flatten copies m into a single row (AxisRow) or a single column (AxisCol).
func Flatten(m *Matrix, axis Axis) (*Matrix, error) {
	n, err := vectorLength(uint64(len(m.data)))
	if err != nil {
		return nil, err
	}
	switch axis {
	case AxisRow:
		out, err := New(1, n)
		if err != nil {
			return nil, err
		}
		copy(out.data, m.data)
		return out, nil
	case AxisCol:
		out, err := New(n, 1)
		if err != nil {
			return nil, err
		}
		r, c := int(m.rows), int(m.cols)
		for j := 0; j < c; j++ {
			for i := 0; i < r; i++ {
				out.data[j*r+i] = m.data[i*c+j]
			}
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrAllocation, "unknown axis %d", axis)
	}
}

// vectorLength is the single dimension of a vector holding n elements.
func vectorLength(n uint64) (uint32, error) {
	if n > math.MaxUint32 {
		return 0, errors.Wrapf(ErrAllocation, "%d elements exceed one dimension", n)
	}
	return uint32(n), nil
}

// Unwrap reverses Flatten: m must be a single row (AxisRow) or a single column
// (AxisCol) holding exactly rows*cols elements.
func Unwrap(m *Matrix, rows, cols uint32, axis Axis) (*Matrix, error) {
	n, ok := elementCount(rows, cols)
	if !ok || n != len(m.data) {
		return nil, errors.Wrapf(ErrAllocation, "unwrap %dx%d into %dx%d", m.rows, m.cols, rows, cols)
	}
	switch axis {
	case AxisRow:
		if m.rows != 1 {
			return nil, errors.Wrapf(ErrAllocation, "unwrap by row needs a row vector, got %dx%d", m.rows, m.cols)
		}
		out, err := New(rows, cols)
		if err != nil {
			return nil, err
		}
		copy(out.data, m.data)
		return out, nil
	case AxisCol:
		if m.cols != 1 {
			return nil, errors.Wrapf(ErrAllocation, "unwrap by column needs a column vector, got %dx%d", m.rows, m.cols)
		}
		out, err := New(rows, cols)
		if err != nil {
			return nil, err
		}
		r, c := int(rows), int(cols)
		for j := 0; j < c; j++ {
			for i := 0; i < r; i++ {
				out.data[i*c+j] = m.data[j*r+i]
			}
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrAllocation, "unknown axis %d", axis)
	}
}
