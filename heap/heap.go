// Package heap is a generic binary min heap.
package heap

import (
	"slices"
)

type Heap[T any] struct {
	data []T
	less func(a, b T) bool
}

func New[T any](less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{
		data: []T{},
		less: less,
	}
}

func (h *Heap[T]) Push(value T) {
	h.data = append(h.data, value)
	h.up(len(h.data) - 1)
}

func (h *Heap[T]) Pop() (T, bool) {
	if len(h.data) == 0 {
		var zero T
		return zero, false
	}
	top := h.data[0]
	last := len(h.data) - 1
	h.data[0] = h.data[last]
	var zero T
	h.data[last] = zero
	h.data = h.data[:last]
	h.down(0)
	return top, true
}

func (h *Heap[T]) Peek() (T, bool) {
	if len(h.data) == 0 {
		var zero T
		return zero, false
	}
	return h.data[0], true
}

// PopWhile pops and returns the smallest values as long as ready accepts them.
func (h *Heap[T]) PopWhile(ready func(T) bool) []T {
	result := []T{}
	for {
		top, found := h.Peek()
		if !found || !ready(top) {
			return result
		}
		h.Pop()
		result = append(result, top)
	}
}

// Sorted returns a sorted copy of the content.
func (h *Heap[T]) Sorted() []T {
	result := slices.Clone(h.data)
	slices.SortStableFunc(result, func(a, b T) int {
		if h.less(a, b) {
			return -1
		} else if h.less(b, a) {
			return 1
		}
		return 0
	})
	return result
}

func (h *Heap[T]) Clear() {
	h.data = []T{}
}

func (h *Heap[T]) Len() int {
	return len(h.data)
}

func (h *Heap[T]) up(index int) {
	for index > 0 {
		parent := (index - 1) / 2
		if !h.less(h.data[index], h.data[parent]) {
			return
		}
		h.data[index], h.data[parent] = h.data[parent], h.data[index]
		index = parent
	}
}

func (h *Heap[T]) down(index int) {
	size := len(h.data)
	for {
		smallest := index
		for _, child := range []int{2*index + 1, 2*index + 2} {
			if child < size && h.less(h.data[child], h.data[smallest]) {
				smallest = child
			}
		}
		if smallest == index {
			return
		}
		h.data[index], h.data[smallest] = h.data[smallest], h.data[index]
		index = smallest
	}
}
