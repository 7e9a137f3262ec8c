// Package sequence provides List, a generic doubly linked list used to hold the
// variable-length parts of an inference pipeline (weights, biases, activations,
// intermediate buffers).
//
// Payloads live in reference-counted cells. Lists produced by Concat, Slice, Copy and
// Filter share cells with their sources; Destroy only releases a payload once the last
// list holding it lets go.
package sequence

import (
	"iter"

	"github.com/pkg/errors"
)

// ErrRange is returned by operations given an invalid index range.
var ErrRange = errors.New("sequence: index out of range")

// Ownership tells whether a list is the only holder of its payloads. Destroy only
// releases payloads of which a list is the last holder.
type Ownership uint8

const (
	Exclusive Ownership = iota
	Shared
)

func (o Ownership) String() string {
	if o == Shared {
		return "shared"
	}
	return "exclusive"
}

type cell[T any] struct {
	value T
	refs  int
}

type node[T any] struct {
	cell *cell[T]
	prev *node[T]
	next *node[T]
}

// List is a doubly linked list of T. The zero value is an empty exclusive list.
// A List is not safe for concurrent mutation.
type List[T any] struct {
	head *node[T]
	tail *node[T]
	size int
}

// New returns an empty list.
func New[T any]() *List[T] {
	return &List[T]{}
}

// Of returns an exclusive list holding values in order.
func Of[T any](values ...T) *List[T] {
	l := New[T]()
	for _, v := range values {
		l.PushBack(v)
	}
	return l
}

// Len returns the number of elements.
func (l *List[T]) Len() int { return l.size }

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool { return l.size == 0 }

// Ownership reports Shared while any payload of l is also held by another list,
// whether l was derived from that list or the other way round.
func (l *List[T]) Ownership() Ownership {
	for n := l.head; n != nil; n = n.next {
		if n.cell.refs > 1 {
			return Shared
		}
	}
	return Exclusive
}

func newNode[T any](v T) *node[T] {
	return &node[T]{cell: &cell[T]{value: v, refs: 1}}
}

func (l *List[T]) linkBack(n *node[T]) {
	n.prev = l.tail
	n.next = nil
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.size++
}

func (l *List[T]) linkFront(n *node[T]) {
	n.next = l.head
	n.prev = nil
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.size++
}

// linkBefore inserts n in front of at, which must belong to l.
func (l *List[T]) linkBefore(n, at *node[T]) {
	n.next = at
	n.prev = at.prev
	if at.prev != nil {
		at.prev.next = n
	} else {
		l.head = n
	}
	at.prev = n
	l.size++
}

func (l *List[T]) unlink(n *node[T]) T {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.size--

	n.cell.refs--
	return n.cell.value
}

// PushBack appends v.
func (l *List[T]) PushBack(v T) {
	l.linkBack(newNode(v))
}

// PushFront prepends v.
func (l *List[T]) PushFront(v T) {
	l.linkFront(newNode(v))
}

// PopBack removes and returns the last element.
func (l *List[T]) PopBack() (T, bool) {
	if l.tail == nil {
		var zero T
		return zero, false
	}
	return l.unlink(l.tail), true
}

// PopFront removes and returns the first element.
func (l *List[T]) PopFront() (T, bool) {
	if l.head == nil {
		var zero T
		return zero, false
	}
	return l.unlink(l.head), true
}

// Front returns the first element.
func (l *List[T]) Front() (T, bool) {
	if l.head == nil {
		var zero T
		return zero, false
	}
	return l.head.cell.value, true
}

// Back returns the last element.
func (l *List[T]) Back() (T, bool) {
	if l.tail == nil {
		var zero T
		return zero, false
	}
	return l.tail.cell.value, true
}

// nodeAt walks from whichever end is nearer to i.
func (l *List[T]) nodeAt(i int) *node[T] {
	if i < 0 || i >= l.size {
		return nil
	}
	if i < l.size/2 {
		n := l.head
		for ; i > 0; i-- {
			n = n.next
		}
		return n
	}
	n := l.tail
	for j := l.size - 1; j > i; j-- {
		n = n.prev
	}
	return n
}

// Get returns the element at index i.
func (l *List[T]) Get(i int) (T, bool) {
	n := l.nodeAt(i)
	if n == nil {
		var zero T
		return zero, false
	}
	return n.cell.value, true
}

// Set replaces the element at index i. A cell shared with another list is left to
// that list and this node gets a fresh one.
func (l *List[T]) Set(i int, v T) bool {
	n := l.nodeAt(i)
	if n == nil {
		return false
	}
	if n.cell.refs > 1 {
		n.cell.refs--
		n.cell = &cell[T]{value: v, refs: 1}
		return true
	}
	n.cell.value = v
	return true
}

// Insert places v at index i, shifting later elements back. i may equal Len.
func (l *List[T]) Insert(i int, v T) bool {
	switch {
	case i < 0 || i > l.size:
		return false
	case i == l.size:
		l.PushBack(v)
	case i == 0:
		l.PushFront(v)
	default:
		l.linkBefore(newNode(v), l.nodeAt(i))
	}
	return true
}

// Remove deletes and returns the element at index i.
func (l *List[T]) Remove(i int) (T, bool) {
	n := l.nodeAt(i)
	if n == nil {
		var zero T
		return zero, false
	}
	return l.unlink(n), true
}

// Swap exchanges the payloads at i and j. Node links are untouched.
func (l *List[T]) Swap(i, j int) {
	if i == j {
		return
	}
	a, b := l.nodeAt(i), l.nodeAt(j)
	if a == nil || b == nil {
		return
	}
	a.cell, b.cell = b.cell, a.cell
}

// Reverse reverses the list in place by exchanging each node's links.
func (l *List[T]) Reverse() {
	for n := l.head; n != nil; n = n.prev {
		n.prev, n.next = n.next, n.prev
	}
	l.head, l.tail = l.tail, l.head
}

// Destroy empties the list. release is called for each payload no other list still
// holds; it may be nil.
func (l *List[T]) Destroy(release func(T)) {
	for n := l.head; n != nil; {
		next := n.next
		n.cell.refs--
		if n.cell.refs == 0 && release != nil {
			release(n.cell.value)
		}
		n.prev, n.next, n.cell = nil, nil, nil
		n = next
	}
	l.head, l.tail, l.size = nil, nil, 0
}

// All iterates from head to tail.
func (l *List[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		i := 0
		for n := l.head; n != nil; n = n.next {
			if !yield(i, n.cell.value) {
				return
			}
			i++
		}
	}
}

// Backward iterates from tail to head.
func (l *List[T]) Backward() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		i := l.size - 1
		for n := l.tail; n != nil; n = n.prev {
			if !yield(i, n.cell.value) {
				return
			}
			i--
		}
	}
}

// Values copies the elements into a slice.
func (l *List[T]) Values() []T {
	out := make([]T, 0, l.size)
	for n := l.head; n != nil; n = n.next {
		out = append(out, n.cell.value)
	}
	return out
}
