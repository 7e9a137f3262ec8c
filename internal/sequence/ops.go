package sequence

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Sort orders the list in place by cmp (negative when a sorts before b).
// Payloads move between nodes; the nodes themselves are never relinked, so head
// and tail remain the first and last nodes. The sort is not stable.
func (l *List[T]) Sort(cmp func(a, b T) int) {
	if l.size < 2 {
		return
	}
	partitionSort(l.head, l.tail, cmp)
}

// partitionSort sorts the inclusive node range [lo, hi]. The first node is the pivot;
// nodes ordered before it are gathered behind it by payload swaps, then the pivot is
// swapped into its final slot.
func partitionSort[T any](lo, hi *node[T], cmp func(a, b T) int) {
	for lo != hi {
		pivot := lo.cell.value
		store := lo
		for cur := lo.next; ; cur = cur.next {
			if cmp(cur.cell.value, pivot) < 0 {
				store = store.next
				store.cell, cur.cell = cur.cell, store.cell
			}
			if cur == hi {
				break
			}
		}
		lo.cell, store.cell = store.cell, lo.cell

		// Recurse into the left part, loop on the right part.
		if store != lo {
			partitionSort(lo, store.prev, cmp)
		}
		if store == hi {
			return
		}
		lo = store.next
	}
}

// Map returns a new exclusive list holding f applied to each element of l.
func Map[T, U any](l *List[T], f func(T) U) *List[U] {
	out := New[U]()
	for n := l.head; n != nil; n = n.next {
		out.PushBack(f(n.cell.value))
	}
	return out
}

// Filter returns a list of the elements satisfying pred. The result shares payloads
// with l.
func (l *List[T]) Filter(pred func(T) bool) *List[T] {
	out := New[T]()
	for n := l.head; n != nil; n = n.next {
		if pred(n.cell.value) {
			out.share(n.cell)
		}
	}
	return out
}

// Reduce folds the list from head to tail using the first element as the initial
// accumulator. An empty list yields false.
func (l *List[T]) Reduce(f func(acc, v T) T) (T, bool) {
	if l.head == nil {
		var zero T
		return zero, false
	}
	acc := l.head.cell.value
	for n := l.head.next; n != nil; n = n.next {
		acc = f(acc, n.cell.value)
	}
	return acc, true
}

// Fold folds the list from head to tail starting from init.
func Fold[T, A any](l *List[T], init A, f func(A, T) A) A {
	acc := init
	for n := l.head; n != nil; n = n.next {
		acc = f(acc, n.cell.value)
	}
	return acc
}

// ForEach calls f for every element from head to tail.
func (l *List[T]) ForEach(f func(i int, v T)) {
	i := 0
	for n := l.head; n != nil; n = n.next {
		f(i, n.cell.value)
		i++
	}
}

// Exhaustible is a caller-owned traversal context that reports when it has run dry.
type Exhaustible interface {
	Empty() bool
}

// ForEachWith calls f with ctx for every element from head to tail, stopping as soon
// as ctx reports Empty. The list imposes no other termination rule.
func ForEachWith[T any, C Exhaustible](l *List[T], ctx C, f func(ctx C, v T)) {
	for n := l.head; n != nil; n = n.next {
		if ctx.Empty() {
			return
		}
		f(ctx, n.cell.value)
	}
}

func (l *List[T]) share(c *cell[T]) {
	c.refs++
	l.linkBack(&node[T]{cell: c})
}

// Copy returns a shallow copy of l sharing every payload.
func (l *List[T]) Copy() *List[T] {
	out := New[T]()
	for n := l.head; n != nil; n = n.next {
		out.share(n.cell)
	}
	return out
}

// Concat returns a new list holding the elements of a followed by those of b. The
// result shares payloads with both.
func Concat[T any](a, b *List[T]) *List[T] {
	out := a.Copy()
	for n := b.head; n != nil; n = n.next {
		out.share(n.cell)
	}
	return out
}

// Slice returns the half-open range [start, end) as a list sharing payloads with l.
// start == end yields an empty list.
func (l *List[T]) Slice(start, end int) (*List[T], error) {
	if start < 0 || end > l.size || start > end {
		return nil, errors.Wrapf(ErrRange, "slice [%d:%d] of %d", start, end, l.size)
	}
	out := New[T]()
	if start == end {
		return out, nil
	}
	n := l.nodeAt(start)
	for i := start; i < end; i++ {
		out.share(n.cell)
		n = n.next
	}
	return out, nil
}

// Hash combines the per-element hashes produced by fn with xxhash.
func (l *List[T]) Hash(fn func(T) uint64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for n := l.head; n != nil; n = n.next {
		binary.LittleEndian.PutUint64(buf[:], fn(n.cell.value))
		d.Write(buf[:])
	}
	return d.Sum64()
}
