package audio

import (
	"sync"
)

// Capture holds the audio of one listening session: a primary buffer that
// accumulates everything since the last flush, and a rolling window of the
// most recent audio kept for retroactive export.
//
// Ingest, FlushPrimary, ExportRollingWindow and Reset are serialized by a
// single lock, so a flush never splits or loses a chunk.
type Capture struct {
	format Format

	primary      [][]byte
	primaryBytes int
	window       *RingAccumulator

	mutex sync.Mutex
}

func NewCapture(format Format, windowCapacity int) *Capture {
	return &Capture{
		format: format,
		window: NewRingAccumulator(windowCapacity),
	}
}

// Ingest appends the chunk to both buffers.
func (c *Capture) Ingest(chunk Chunk) {
	if len(chunk.PCM) == 0 {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.primary = append(c.primary, chunk.PCM)
	c.primaryBytes += len(chunk.PCM)
	c.window.Push(chunk.PCM)
}

// FlushPrimary takes the primary buffer, replaces it with an empty one and
// returns the taken audio as a WAV payload. ok is false when there was
// nothing to flush.
func (c *Capture) FlushPrimary() (payload []byte, ok bool) {
	c.mutex.Lock()
	taken := c.primary
	size := c.primaryBytes
	c.primary = nil
	c.primaryBytes = 0
	c.mutex.Unlock()

	if size == 0 {
		return nil, false
	}

	pcm := make([]byte, 0, size)
	for _, p := range taken {
		pcm = append(pcm, p...)
	}
	return EncodeWAV(pcm, c.format), true
}

// ExportRollingWindow returns the current window as a WAV payload. The
// window is left untouched.
func (c *Capture) ExportRollingWindow() []byte {
	c.mutex.Lock()
	pcm := c.window.Snapshot()
	c.mutex.Unlock()

	return EncodeWAV(pcm, c.format)
}

// Reset drops all buffered audio.
func (c *Capture) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.primary = nil
	c.primaryBytes = 0
	c.window.Clear()
}

// PendingBytes is the size of the primary buffer.
func (c *Capture) PendingBytes() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.primaryBytes
}

// WindowBytes is the size of the rolling window.
func (c *Capture) WindowBytes() int {
	return c.window.TotalBytes()
}

func (c *Capture) Format() Format {
	return c.format
}
