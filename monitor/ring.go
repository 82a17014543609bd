package monitor

import "sync"

// Ring is a fixed-capacity circular buffer. Writes past capacity overwrite the oldest entry.
// Safe for concurrent use.
type Ring[T any] struct {
	mu       sync.RWMutex
	entries  []T
	capacity int
	head     int // index where the next write goes
	total    int64
}

// NewRing creates a ring holding at most capacity entries
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Write appends one entry, evicting the oldest when full
func (r *Ring[T]) Write(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, entry)
	} else {
		r.entries[r.head] = entry
	}
	r.head = (r.head + 1) % r.capacity
	r.total++
}

// ReadAll returns a copy of all entries, oldest first
func (r *Ring[T]) ReadAll() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastLocked(len(r.entries))
}

// Last returns up to n of the newest entries, oldest first
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > len(r.entries) {
		n = len(r.entries)
	}
	return r.lastLocked(n)
}

func (r *Ring[T]) lastLocked(n int) []T {
	if n <= 0 {
		return nil
	}

	out := make([]T, 0, n)
	size := len(r.entries)
	// oldest entry sits at head once the buffer has wrapped, at 0 before
	oldest := 0
	if size == r.capacity {
		oldest = r.head
	}
	for i := size - n; i < size; i++ {
		out = append(out, r.entries[(oldest+i)%size])
	}
	return out
}

// Len returns the number of stored entries
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Total returns the number of entries ever written
func (r *Ring[T]) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Capacity returns the maximum number of stored entries
func (r *Ring[T]) Capacity() int {
	return r.capacity
}
