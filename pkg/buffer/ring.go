// Package buffer provides a thread-safe bounded ring used for event and
// command history. When full, the oldest entry is dropped to make room.
package buffer

import "sync"

// Ring is a fixed-capacity circular buffer that keeps the most recent
// entries in insertion order.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest entry
	dropped  uint64
}

// NewRing creates a ring with the given capacity. Capacities below one
// are raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest entry when full. It returns
// true if an entry was evicted.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := false
	if r.size == r.capacity {
		var zero T
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.dropped++
		evicted = true
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	return evicted
}

// Snapshot returns the buffered entries oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.tail+i)%r.capacity]
	}
	return out
}

// Filter returns the entries matching pred, oldest first.
func (r *Ring[T]) Filter(pred func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []T
	for i := 0; i < r.size; i++ {
		item := r.items[(r.tail+i)%r.capacity]
		if pred(item) {
			out = append(out, item)
		}
	}
	return out
}

// Last returns up to n of the most recent entries, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]T, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(r.tail+start+i)%r.capacity]
	}
	return out
}

// Len returns the current number of buffered entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Dropped returns the total number of evicted entries.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Clear removes all entries.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0
}
