// Package matrix implements a dense, row-major float32 matrix used by the inference pipeline.
//
// Arithmetic is permissive: shape mismatches and out-of-range indices leave their
// operands untouched and report a Status instead of failing. Callers on the hot path
// ignore the Status; stricter callers convert it with Status.Err.
package matrix

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ErrAllocation is returned when a matrix cannot be created with the requested shape.
var ErrAllocation = errors.New("matrix: allocation failure")

// Matrix is a rows×cols buffer of float32 values in row-major order.
type Matrix struct {
	rows uint32
	cols uint32
	data []float32
}

// maxElements bounds rows*cols so the backing byte count fits in an int.
const maxElements = math.MaxInt / 4

// New returns a zero-filled rows×cols matrix.
func New(rows, cols uint32) (*Matrix, error) {
	n, ok := elementCount(rows, cols)
	if !ok {
		return nil, errors.Wrapf(ErrAllocation, "%dx%d", rows, cols)
	}
	return &Matrix{rows: rows, cols: cols, data: make([]float32, n)}, nil
}

// FromSlice returns a rows×cols matrix holding a copy of values.
func FromSlice(rows, cols uint32, values []float32) (*Matrix, error) {
	m, err := New(rows, cols)
	if err != nil {
		return nil, err
	}
	if len(values) != len(m.data) {
		return nil, errors.Wrapf(ErrAllocation, "%dx%d needs %d values, got %d", rows, cols, len(m.data), len(values))
	}
	copy(m.data, values)
	return m, nil
}

func elementCount(rows, cols uint32) (int, bool) {
	if rows == 0 || cols == 0 {
		return 0, false
	}
	n := uint64(rows) * uint64(cols)
	if n > maxElements {
		return 0, false
	}
	return int(n), true
}

// Rows returns the number of rows.
func (m *Matrix) Rows() uint32 { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() uint32 { return m.cols }

// Len returns rows*cols.
func (m *Matrix) Len() int { return len(m.data) }

// Data exposes the row-major backing slice. Writes through it are visible to m.
func (m *Matrix) Data() []float32 { return m.data }

// SameShape reports whether m and o have identical dimensions.
func (m *Matrix) SameShape(o *Matrix) bool {
	return m.rows == o.rows && m.cols == o.cols
}

func (m *Matrix) index(r, c uint32) (int, bool) {
	if r >= m.rows || c >= m.cols {
		return 0, false
	}
	return int(r)*int(m.cols) + int(c), true
}

// At returns the element at (r, c), or 0 when the position is out of range.
func (m *Matrix) At(r, c uint32) float32 {
	i, ok := m.index(r, c)
	if !ok {
		return 0
	}
	return m.data[i]
}

// Set stores v at (r, c). Out-of-range positions are ignored.
func (m *Matrix) Set(r, c uint32, v float32) Status {
	i, ok := m.index(r, c)
	if !ok {
		return OutOfRange
	}
	m.data[i] = v
	return OK
}

// Fill sets every element to v.
func (m *Matrix) Fill(v float32) {
	for i := range m.data {
		m.data[i] = v
	}
}

// Apply replaces every element e with f(e).
func (m *Matrix) Apply(f func(float32) float32) {
	for i, e := range m.data {
		m.data[i] = f(e)
	}
}

// Clone returns a deep copy of m.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{rows: m.rows, cols: m.cols, data: make([]float32, len(m.data))}
	copy(out.data, m.data)
	return out
}

// Equal reports whether m and o have the same shape and elements.
func (m *Matrix) Equal(o *Matrix) bool {
	if m == nil || o == nil {
		return m == o
	}
	if !m.SameShape(o) {
		return false
	}
	for i, v := range m.data {
		if o.data[i] != v {
			return false
		}
	}
	return true
}

// Release drops the backing buffer. The matrix must not be used afterwards.
func (m *Matrix) Release() {
	m.data = nil
	m.rows, m.cols = 0, 0
}

// String renders the matrix one row per line.
func (m *Matrix) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Matrix(%dx%d)\n", m.rows, m.cols)
	for r := uint32(0); r < m.rows; r++ {
		row := m.data[int(r)*int(m.cols) : int(r+1)*int(m.cols)]
		for c, v := range row {
			if c > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%g", v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
