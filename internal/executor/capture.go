package executor

import "sync"

// captureBuffer is a bounded writer that keeps the last N bytes written
// to it. Runaway subprocess output therefore costs a fixed amount of
// memory while still preserving the tail, which is where rate-limit and
// error messages land.
type captureBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped int64
}

// newCaptureBuffer creates a buffer retaining at most limit bytes.
func newCaptureBuffer(limit int) *captureBuffer {
	if limit <= 0 {
		limit = 1 << 20
	}
	return &captureBuffer{limit: limit}
}

// Write implements io.Writer. It never returns an error; excess bytes
// at the front of the buffer are discarded.
func (c *captureBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(p) >= c.limit {
		c.dropped += int64(len(c.buf)) + int64(len(p)-c.limit)
		c.buf = append(c.buf[:0], p[len(p)-c.limit:]...)
		return len(p), nil
	}

	c.buf = append(c.buf, p...)
	if excess := len(c.buf) - c.limit; excess > 0 {
		c.dropped += int64(excess)
		c.buf = c.buf[excess:]
	}
	return len(p), nil
}

// String returns the retained bytes.
func (c *captureBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

// Dropped returns how many bytes were discarded due to the limit.
func (c *captureBuffer) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
