package metrics

import (
	"math"
	"slices"
	"time"
)

// DefaultSampleCapacity is the number of latency samples kept per destination.
const DefaultSampleCapacity = 1000

// latencyRing is a fixed-capacity FIFO of latency samples.
// Once full, each push overwrites the oldest sample.
type latencyRing struct {
	buf  []time.Duration
	next int
	full bool
}

func newLatencyRing(capacity int) *latencyRing {
	return &latencyRing{buf: make([]time.Duration, capacity)}
}

func (r *latencyRing) push(d time.Duration) {
	r.buf[r.next] = d
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *latencyRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// sorted returns a sorted copy of the current samples.
func (r *latencyRing) sorted() []time.Duration {
	out := make([]time.Duration, r.len())
	copy(out, r.buf[:r.len()])
	slices.Sort(out)
	return out
}

func (r *latencyRing) reset() {
	clear(r.buf)
	r.next = 0
	r.full = false
}

// nearestRank returns the p-th percentile (0 < p <= 100) of sorted samples
// using the nearest-rank method.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted)) / 100))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}
