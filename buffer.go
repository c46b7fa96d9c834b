package agenttrace

import (
	"sync"
	"sync/atomic"
)

// spanBuffer is a fixed-capacity FIFO ring of finished spans.
// When full, pushing evicts the oldest span and counts it as dropped.
// Safe for concurrent use by multiple goroutines.
type spanBuffer struct {
	slots   []*Span
	head    int // index of the oldest span
	count   int
	dropped atomic.Uint64
	mu      sync.Mutex
}

func newSpanBuffer(capacity int) *spanBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &spanBuffer{slots: make([]*Span, capacity)}
}

// push appends span and returns the buffer length afterwards together with
// the span evicted to make room, if any.
func (b *spanBuffer) push(span *Span) (size int, evicted *Span) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.slots)
	if b.count == capacity {
		evicted = b.slots[b.head]
		b.slots[b.head] = span
		b.head = (b.head + 1) % capacity
		b.dropped.Add(1)
		return b.count, evicted
	}

	b.slots[(b.head+b.count)%capacity] = span
	b.count++
	return b.count, nil
}

// drain removes and returns up to limit of the oldest spans.
func (b *spanBuffer) drain(limit int) []*Span {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(limit, b.count)
	if n <= 0 {
		return nil
	}

	capacity := len(b.slots)
	out := make([]*Span, n)
	for i := range n {
		out[i] = b.slots[b.head]
		b.slots[b.head] = nil // Release for GC.
		b.head = (b.head + 1) % capacity
	}
	b.count -= n
	return out
}

// len returns the number of buffered spans.
func (b *spanBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// capacity returns the fixed ring size.
func (b *spanBuffer) capacity() int {
	return len(b.slots)
}

// droppedCount returns how many spans were evicted by overflow.
func (b *spanBuffer) droppedCount() uint64 {
	return b.dropped.Load()
}
