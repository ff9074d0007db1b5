// ABOUTME: Bounded FIFO of parsed samples between the file poller and the streamer.
// ABOUTME: Push refuses new samples when full rather than evicting old ones.

package utsc

import "sync"

// DefaultBufferCapacity bounds a session buffer when none is configured.
const DefaultBufferCapacity = 500

// Buffer is a bounded FIFO safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	items    []Sample
	capacity int
	dropped  int
}

// NewBuffer returns a Buffer holding at most capacity samples.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{capacity: capacity}
}

// Push appends s. It returns false and counts a drop when the buffer is full.
func (b *Buffer) Push(s Sample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.capacity {
		b.dropped++
		return false
	}
	b.items = append(b.items, s)
	return true
}

// Pop removes and returns the oldest sample.
func (b *Buffer) Pop() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return Sample{}, false
	}
	s := b.items[0]
	b.items[0] = Sample{}
	b.items = b.items[1:]
	return s, true
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns how many pushes were refused.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Capacity returns the configured bound.
func (b *Buffer) Capacity() int {
	return b.capacity
}
