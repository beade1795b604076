package limiter

import (
	"bytes"
	"sync"
)

// CappedBuffer collects at most limit bytes. Writes past the cap are
// discarded, the buffer is marked truncated and onOverflow runs once.
// Writes never fail so that the producer side keeps draining.
type CappedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int64
	truncated  bool
	onOverflow func()
}

// NewCappedBuffer creates a buffer capped at limit bytes.
func NewCappedBuffer(limit int64, onOverflow func()) *CappedBuffer {
	return &CappedBuffer{limit: limit, onOverflow: onOverflow}
}

func (b *CappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	remaining := b.limit - int64(b.buf.Len())
	if int64(len(p)) <= remaining {
		b.buf.Write(p)
		b.mu.Unlock()
		return len(p), nil
	}
	if remaining > 0 {
		b.buf.Write(p[:remaining])
	}
	first := !b.truncated
	b.truncated = true
	b.mu.Unlock()

	if first && b.onOverflow != nil {
		b.onOverflow()
	}
	return len(p), nil
}

// String returns the captured bytes.
func (b *CappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Truncated reports whether output was dropped.
func (b *CappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
