// Implements the BoundedQueue, the single hand-off point between the ingestion
// goroutine (producer) and the replay loop (consumer).

package sim

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// slot holds one payload and its occupancy flag.
// The producer writes item and then stores occupied=true; the consumer loads
// occupied=true before reading item. sync/atomic operations are sequentially
// consistent, which gives the required release/acquire pairing.
type slot[T any] struct {
	item     T
	occupied atomic.Bool
}

// BoundedQueue is a fixed-capacity single-producer single-consumer ring.
// Push must only be called from one goroutine and Pop from one other goroutine.
// Size, Capacity and LoadPercentage may be called from either side.
type BoundedQueue[T any] struct {
	slots []slot[T]
	mask  uint64

	writer atomic.Uint64 // advanced by the producer only
	reader atomic.Uint64 // advanced by the consumer only
}

// NewBoundedQueue creates a queue holding at least capacity items.
// The capacity is rounded up to the next power of two (minimum 2).
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 0 {
		panic(fmt.Sprintf("NewBoundedQueue: capacity must be >= 0, got %d", capacity))
	}
	size := roundUpPowerOfTwo(uint64(capacity))
	return &BoundedQueue[T]{
		slots: make([]slot[T], size),
		mask:  size - 1,
	}
}

func roundUpPowerOfTwo(n uint64) uint64 {
	if n <= 2 {
		return 2
	}
	return 1 << bits.Len64(n-1)
}

// Push stores item in the next slot. Returns false without blocking when the queue is full.
func (q *BoundedQueue[T]) Push(item T) bool {
	w := q.writer.Load()
	s := &q.slots[w&q.mask]
	if s.occupied.Load() {
		return false
	}
	s.item = item
	s.occupied.Store(true)
	q.writer.Store(w + 1)
	return true
}

// Pop removes the oldest item. Returns false without blocking when the queue is empty.
func (q *BoundedQueue[T]) Pop() (T, bool) {
	var zero T
	r := q.reader.Load()
	s := &q.slots[r&q.mask]
	if !s.occupied.Load() {
		return zero, false
	}
	item := s.item
	s.item = zero
	s.occupied.Store(false)
	q.reader.Store(r + 1)
	return item, true
}

// Size returns the number of items currently queued.
// When called concurrently with Push or Pop the result may lag by one operation.
func (q *BoundedQueue[T]) Size() int {
	// reader first: it can only grow toward writer, so writer-reader never underflows
	r := q.reader.Load()
	w := q.writer.Load()
	return int(w - r)
}

// Capacity returns the rounded slot count.
func (q *BoundedQueue[T]) Capacity() int {
	return len(q.slots)
}

// LoadPercentage returns Size()*100/Capacity(), truncated.
func (q *BoundedQueue[T]) LoadPercentage() int {
	return q.Size() * 100 / q.Capacity()
}

func (q *BoundedQueue[T]) String() string {
	return fmt.Sprintf("BoundedQueue[size=%d capacity=%d load=%d%%]", q.Size(), q.Capacity(), q.LoadPercentage())
}
