package audio

import (
	"sync"
)

// RingAccumulator keeps the most recent chunks whose combined size fits in a
// fixed byte capacity. Eviction is whole-chunk and oldest first, so the
// retained total may sit slightly below capacity but never above it.
type RingAccumulator struct {
	capacity int

	chunks [][]byte
	total  int
	mutex  sync.Mutex
}

func NewRingAccumulator(capacityBytes int) *RingAccumulator {
	return &RingAccumulator{
		capacity: capacityBytes,
	}
}

// Push appends pcm and evicts from the front until the total fits.
func (r *RingAccumulator) Push(pcm []byte) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.chunks = append(r.chunks, pcm)
	r.total += len(pcm)

	evict := 0
	for r.total > r.capacity && evict < len(r.chunks) {
		r.total -= len(r.chunks[evict])
		r.chunks[evict] = nil
		evict++
	}
	if evict > 0 {
		r.chunks = r.chunks[evict:]
	}
}

// Snapshot returns a copy of the retained audio in arrival order.
func (r *RingAccumulator) Snapshot() []byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make([]byte, 0, r.total)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

func (r *RingAccumulator) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.chunks = nil
	r.total = 0
}

func (r *RingAccumulator) TotalBytes() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.total
}

