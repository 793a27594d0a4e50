package ingest

import (
	"sync"

	"fleetlink/pkg/telemetry"
)

// History is a capacity-bounded FIFO buffer of the most recent
// reconstructed samples. New subscribers get a replay from it so their
// view starts consistent with everyone else's.
//
// All methods are safe for concurrent use: the router appends from two
// execution contexts while WebSocket connects snapshot it.
type History struct {
	mu       sync.Mutex
	samples  []telemetry.Sample
	capacity int
}

// NewHistory creates a history buffer holding at most capacity samples.
func NewHistory(capacity int) *History {
	return &History{
		samples:  make([]telemetry.Sample, 0, capacity),
		capacity: capacity,
	}
}

// Append pushes a sample, evicting the oldest when full.
func (h *History) Append(sample telemetry.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.capacity {
		// Shift rather than re-slice so the backing array does not
		// grow without bound.
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, sample)
}

// Snapshot returns a copy of the most recent n samples (or fewer), in
// chronological order.
func (h *History) Snapshot(n int) []telemetry.Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.samples) {
		n = len(h.samples)
	}
	out := make([]telemetry.Sample, n)
	copy(out, h.samples[len(h.samples)-n:])
	return out
}

// Len returns the number of buffered samples.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// Clear empties the buffer.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
}
