package events

import "sync"

// RingBuffer keeps the last size items added, oldest first.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	size  int
	items []T
	index int
	full  bool
	total uint64
}

// NewRingBuffer creates a buffer holding at most size items. A size below
// one is treated as one.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{
		size:  size,
		items: make([]T, size),
	}
}

func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.items[rb.index] = item
	rb.index = (rb.index + 1) % rb.size
	if rb.index == 0 {
		rb.full = true
	}
	rb.total++
}

func (rb *RingBuffer[T]) Snapshot() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		return append([]T{}, rb.items[:rb.index]...)
	}

	out := make([]T, 0, rb.size)
	out = append(out, rb.items[rb.index:]...)
	out = append(out, rb.items[:rb.index]...)
	return out
}

// Len returns the number of items currently held.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return rb.size
	}
	return rb.index
}

// TotalCount returns how many items were ever added, including evicted ones.
func (rb *RingBuffer[T]) TotalCount() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}

// Clear drops every held item. TotalCount is kept.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.index = 0
	rb.full = false
}
