package history

import (
	"errors"
	"sync"
	"time"

	"host-sentinel/internal/metrics"
)

// MaxPoints is one hour of samples at 1 Hz.
const MaxPoints = 3600

// ErrOutOfOrder rejects a sample older than the newest buffered one.
var ErrOutOfOrder = errors.New("sample timestamp precedes buffered history")

// Buffer is a fixed-capacity FIFO of smoothed samples backed by a ring.
type Buffer struct {
	mu    sync.RWMutex
	ring  []metrics.Sample
	head  int // index of the oldest entry
	count int
}

// New allocates a buffer holding at most capacity samples.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = MaxPoints
	}
	return &Buffer{ring: make([]metrics.Sample, capacity)}
}

// Append inserts sample, evicting the oldest entry when full.
func (b *Buffer) Append(sample metrics.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count > 0 && sample.Timestamp.Before(b.at(b.count-1).Timestamp) {
		return ErrOutOfOrder
	}

	if b.count == len(b.ring) {
		b.ring[b.head] = sample
		b.head = (b.head + 1) % len(b.ring)
		return nil
	}
	b.ring[(b.head+b.count)%len(b.ring)] = sample
	b.count++
	return nil
}

func (b *Buffer) at(i int) metrics.Sample {
	return b.ring[(b.head+i)%len(b.ring)]
}

// Len reports the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap reports the capacity.
func (b *Buffer) Cap() int { return len(b.ring) }

// Snapshot returns the ordered values of one metric, oldest first.
func (b *Buffer) Snapshot(m metrics.Metric) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float64, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.at(i).Value(m)
	}
	return out
}

// Timestamps returns sample times, oldest first.
func (b *Buffer) Timestamps() []time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]time.Time, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.at(i).Timestamp
	}
	return out
}

// Latest returns the newest sample.
func (b *Buffer) Latest() (metrics.Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return metrics.Sample{}, false
	}
	return b.at(b.count - 1), true
}
