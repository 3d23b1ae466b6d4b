package bytebuf

import "sync"

// Allocator hands out buffers for one connection.
type Allocator interface {
	Buffer(size int) *Buffer
}

// Heap allocates a fresh buffer on every call.
type Heap struct{}

func (Heap) Buffer(size int) *Buffer { return New(size) }

// Counting wraps another allocator and tracks how many buffers and bytes it
// handed out. The transport uses it for per-session accounting.
type Counting struct {
	Next Allocator

	mu      sync.Mutex
	buffers int
	bytes   int
}

func (c *Counting) Buffer(size int) *Buffer {
	c.mu.Lock()
	c.buffers++
	c.bytes += size
	c.mu.Unlock()
	next := c.Next
	if next == nil {
		next = Heap{}
	}
	return next.Buffer(size)
}

// Stats returns the number of buffers and total requested bytes.
func (c *Counting) Stats() (buffers, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffers, c.bytes
}
