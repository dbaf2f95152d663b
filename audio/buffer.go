package audio

import (
	"sync"
	"time"
)

// CaptureBuffer accumulates raw PCM from the capture callback until the
// scheduler drains it. Each written byte is handed out by exactly one
// DrainAndReset call.
type CaptureBuffer struct {
	mu      sync.Mutex
	data    []byte
	stopped bool
	format  Format
}

func NewCaptureBuffer(f Format) *CaptureBuffer {
	return &CaptureBuffer{format: f}
}

// Write appends p. It is a no-op once the buffer is stopped.
func (b *CaptureBuffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	if !b.stopped {
		b.data = append(b.data, p...)
	}
	b.mu.Unlock()
}

// Callback adapts the buffer to a capture device.
func (b *CaptureBuffer) Callback() DataCallback {
	return func(data []byte, _ uint32) { b.Write(data) }
}

// DrainAndReset returns everything buffered so far and empties the buffer.
func (b *CaptureBuffer) DrainAndReset() []byte {
	b.mu.Lock()
	out := b.data
	b.data = nil
	b.mu.Unlock()
	return out
}

func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *CaptureBuffer) Duration() time.Duration {
	return b.format.Duration(b.Len())
}

func (b *CaptureBuffer) Format() Format { return b.format }

// Stop rejects further writes. Data already buffered stays drainable.
func (b *CaptureBuffer) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

// Reopen clears the buffer and accepts writes again.
func (b *CaptureBuffer) Reopen() {
	b.mu.Lock()
	b.data = nil
	b.stopped = false
	b.mu.Unlock()
}
