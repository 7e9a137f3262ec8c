package matrix

// Add stores a+b in dst. All three matrices must share one shape.
func Add(dst, a, b *Matrix) Status {
	if !dst.SameShape(a) || !dst.SameShape(b) {
		return ShapeMismatch
	}
	bd := b.data[:len(a.data)]
	for i, v := range a.data {
		dst.data[i] = v + bd[i]
	}
	return OK
}

// Sub stores a-b in dst. All three matrices must share one shape.
func Sub(dst, a, b *Matrix) Status {
	if !dst.SameShape(a) || !dst.SameShape(b) {
		return ShapeMismatch
	}
	bd := b.data[:len(a.data)]
	for i, v := range a.data {
		dst.data[i] = v - bd[i]
	}
	return OK
}

// Dot stores the matrix product a·b in dst.
// dst must be a.rows×b.cols and must not share storage with a or b.
func Dot(dst, a, b *Matrix) Status {
	if a.cols != b.rows || dst.rows != a.rows || dst.cols != b.cols || len(dst.data) == 0 {
		return ShapeMismatch
	}
	if aliases(dst, a) || aliases(dst, b) {
		return Aliased
	}

	n, k, p := int(a.rows), int(a.cols), int(b.cols)
	for i := 0; i < n; i++ {
		out := dst.data[i*p : (i+1)*p]
		for j := range out {
			out[j] = 0
		}
		row := a.data[i*k : (i+1)*k]
		for x, av := range row {
			brow := b.data[x*p : (x+1)*p]
			for j, bv := range brow {
				out[j] += av * bv
			}
		}
	}
	return OK
}

func aliases(x, y *Matrix) bool {
	if x == y {
		return true
	}
	if len(x.data) == 0 || len(y.data) == 0 {
		return false
	}
	return &x.data[0] == &y.data[0]
}

// Scale multiplies every element of m by k.
func Scale(m *Matrix, k float32) Status {
	for i := range m.data {
		m.data[i] *= k
	}
	return OK
}

// RowAdd adds k times row src to row dst.
func RowAdd(m *Matrix, dst, src uint32, k float32) Status {
	if dst >= m.rows || src >= m.rows {
		return OutOfRange
	}
	c := int(m.cols)
	to := m.data[int(dst)*c : int(dst+1)*c]
	from := m.data[int(src)*c : int(src+1)*c]
	for j := range to {
		to[j] += k * from[j]
	}
	return OK
}

// ColAdd adds k times column src to column dst.
func ColAdd(m *Matrix, dst, src uint32, k float32) Status {
	if dst >= m.cols || src >= m.cols {
		return OutOfRange
	}
	c := int(m.cols)
	for r := 0; r < int(m.rows); r++ {
		m.data[r*c+int(dst)] += k * m.data[r*c+int(src)]
	}
	return OK
}

// RowScale multiplies row i by k.
func RowScale(m *Matrix, i uint32, k float32) Status {
	if i >= m.rows {
		return OutOfRange
	}
	c := int(m.cols)
	row := m.data[int(i)*c : int(i+1)*c]
	for j := range row {
		row[j] *= k
	}
	return OK
}

// ColScale multiplies column i by k.
func ColScale(m *Matrix, i uint32, k float32) Status {
	if i >= m.cols {
		return OutOfRange
	}
	c := int(m.cols)
	for r := 0; r < int(m.rows); r++ {
		m.data[r*c+int(i)] *= k
	}
	return OK
}
