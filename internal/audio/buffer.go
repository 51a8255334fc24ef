package audio

import (
	"sync"
)

// RingBuffer is a thread-safe byte FIFO for encoded audio.
// One slot is kept free so a full buffer holds size-1 bytes.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write copies as much of data as fits and returns the number of bytes
// accepted. It never blocks.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if free := rb.space(); n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	// First segment runs up to the end of the backing array
	first := copy(rb.buffer[rb.write:], data[:n])
	if first < n {
		copy(rb.buffer, data[first:n])
	}
	rb.write = (rb.write + n) % rb.size

	return n
}

// Read moves up to len(data) buffered bytes into data and returns the count.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if avail := rb.available(); n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}

	first := copy(data[:n], rb.buffer[rb.read:])
	if first < n {
		copy(data[first:n], rb.buffer)
	}
	rb.read = (rb.read + n) % rb.size

	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.available()
}

// Space returns the number of bytes available to write
func (rb *RingBuffer) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.space()
}

// Cap returns the largest number of bytes the buffer can hold.
func (rb *RingBuffer) Cap() int {
	return rb.size - 1
}

// Clear discards everything buffered.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return (rb.write+1)%rb.size == rb.read
}

func (rb *RingBuffer) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

func (rb *RingBuffer) space() int {
	return rb.size - rb.available() - 1
}
