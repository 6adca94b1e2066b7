// Package metrics aggregates per-destination outcome, latency and queue
// statistics, and mirrors every event into an exporter Recorder.
//
// A Collector belongs to exactly one destination. Latency percentiles are
// computed over a bounded window of the most recent samples, while totals
// are cumulative since the last Reset.
package metrics

import (
	"sync"
	"time"

	"callguard/internal/resilience/classify"
)

// LatencyStats summarizes the current latency sample window.
type LatencyStats struct {
	Samples int           `json:"samples"`
	Mean    time.Duration `json:"mean"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Max     time.Duration `json:"max"`
}

// QueueStats summarizes observed queue depth and wait time.
type QueueStats struct {
	AverageLength float64       `json:"average_length"`
	MaxLength     int           `json:"max_length"`
	TotalWait     time.Duration `json:"total_wait"`
	AverageWait   time.Duration `json:"average_wait"`
	Dispatched    int64         `json:"dispatched"`
	Rejected      int64         `json:"rejected"`
}

// Snapshot is a point-in-time view of a destination's metrics.
type Snapshot struct {
	Destination         string           `json:"destination"`
	TotalRequests       int64            `json:"total_requests"`
	SuccessfulRequests  int64            `json:"successful_requests"`
	FailedRequests      int64            `json:"failed_requests"`
	TotalRetries        int64            `json:"total_retries"`
	RetriedRequests     int64            `json:"retried_requests"`
	CircuitBreakerTrips int64            `json:"circuit_breaker_trips"`
	ErrorsByCategory    map[string]int64 `json:"errors_by_category"`
	SuccessRate         float64          `json:"success_rate"`
	RequestsPerMinute   float64          `json:"requests_per_minute"`
	Latency             LatencyStats     `json:"latency"`
	Queue               QueueStats       `json:"queue"`
	WindowStart         time.Time        `json:"window_start"`
	Uptime              time.Duration    `json:"uptime"`
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock sets the clock used for the window start and rates.
func WithClock(clock Clock) Option {
	return func(c *Collector) {
		c.clock = clock
	}
}

// WithRecorder sets the exporter every event is mirrored into.
func WithRecorder(r Recorder) Option {
	return func(c *Collector) {
		c.recorder = r
	}
}

// WithSampleCapacity sets the latency window size.
// Non-positive values keep DefaultSampleCapacity.
func WithSampleCapacity(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// Collector aggregates metrics for one destination. It is safe for concurrent use.
type Collector struct {
	destination string
	clock       Clock
	recorder    Recorder
	capacity    int

	mu          sync.Mutex
	windowStart time.Time
	total       int64
	successful  int64
	failed      int64
	retries     int64
	retried     int64
	trips       int64
	errors      map[classify.Category]int64
	latencies   *latencyRing
	latencySum  time.Duration

	queueSamples   int64
	queueLengthSum int64
	queueMax       int
	queueWait      time.Duration
	dispatched     int64
	rejected       int64
}

// NewCollector creates a collector for destination.
func NewCollector(destination string, opts ...Option) *Collector {
	c := &Collector{
		destination: destination,
		clock:       SystemClock{},
		recorder:    NewNoOpRecorder(),
		capacity:    DefaultSampleCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.latencies = newLatencyRing(c.capacity)
	c.errors = make(map[classify.Category]int64)
	c.windowStart = c.clock.Now()

	return c
}

// Destination returns the destination this collector belongs to.
func (c *Collector) Destination() string {
	return c.destination
}

// RecordSuccess records a successful attempt.
func (c *Collector) RecordSuccess(latency time.Duration) {
	c.mu.Lock()
	c.total++
	c.successful++
	c.pushLatency(latency)
	c.mu.Unlock()

	c.recorder.RecordAttempt(c.destination, OutcomeSuccess, latency)
}

// RecordFailure records a failed attempt and its classified category.
func (c *Collector) RecordFailure(latency time.Duration, category classify.Category) {
	c.mu.Lock()
	c.total++
	c.failed++
	c.errors[category]++
	c.pushLatency(latency)
	c.mu.Unlock()

	c.recorder.RecordAttempt(c.destination, OutcomeFailure, latency)
	c.recorder.RecordError(c.destination, category.Label())
}

// pushLatency must be called with mu held.
func (c *Collector) pushLatency(latency time.Duration) {
	if c.latencies.full {
		c.latencySum -= c.latencies.buf[c.latencies.next]
	}
	c.latencies.push(latency)
	c.latencySum += latency
}

// RecordRetry records a scheduled retry. isFirstRetry is true for the first
// retry of a logical request, so RetriedRequests counts requests rather than retries.
func (c *Collector) RecordRetry(isFirstRetry bool) {
	c.mu.Lock()
	c.retries++
	if isFirstRetry {
		c.retried++
	}
	c.mu.Unlock()

	c.recorder.RecordRetry(c.destination)
}

// RecordCircuitBreakerTrip records a call rejected by an open circuit.
func (c *Collector) RecordCircuitBreakerTrip() {
	c.mu.Lock()
	c.trips++
	c.mu.Unlock()

	c.recorder.RecordCircuitTrip(c.destination)
}

// RecordQueueLength samples the current queue length.
func (c *Collector) RecordQueueLength(length int) {
	c.mu.Lock()
	c.queueSamples++
	c.queueLengthSum += int64(length)
	c.queueMax = max(c.queueMax, length)
	c.mu.Unlock()

	c.recorder.SetQueueLength(c.destination, length)
}

// RecordQueueWait records how long a dispatched entry waited in the queue.
func (c *Collector) RecordQueueWait(wait time.Duration) {
	c.mu.Lock()
	c.dispatched++
	c.queueWait += wait
	c.mu.Unlock()

	c.recorder.RecordQueueWait(c.destination, wait)
}

// RecordQueueRejected records an entry rejected because the queue was full.
func (c *Collector) RecordQueueRejected() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()

	c.recorder.RecordQueueRejected(c.destination)
}

// Snapshot computes the current metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	elapsed := now.Sub(c.windowStart)

	s := Snapshot{
		Destination:         c.destination,
		TotalRequests:       c.total,
		SuccessfulRequests:  c.successful,
		FailedRequests:      c.failed,
		TotalRetries:        c.retries,
		RetriedRequests:     c.retried,
		CircuitBreakerTrips: c.trips,
		ErrorsByCategory:    make(map[string]int64, len(c.errors)),
		WindowStart:         c.windowStart,
		Uptime:              elapsed,
	}

	for category, n := range c.errors {
		s.ErrorsByCategory[string(category)] = n
	}

	if c.total > 0 {
		s.SuccessRate = float64(c.successful) / float64(c.total) * 100
	}
	if minutes := elapsed.Minutes(); minutes > 0 {
		s.RequestsPerMinute = float64(c.total) / minutes
	}

	if n := c.latencies.len(); n > 0 {
		sorted := c.latencies.sorted()
		s.Latency = LatencyStats{
			Samples: n,
			Mean:    c.latencySum / time.Duration(n),
			P50:     nearestRank(sorted, 50),
			P95:     nearestRank(sorted, 95),
			P99:     nearestRank(sorted, 99),
			Max:     sorted[n-1],
		}
	}

	s.Queue = QueueStats{
		MaxLength:  c.queueMax,
		TotalWait:  c.queueWait,
		Dispatched: c.dispatched,
		Rejected:   c.rejected,
	}
	if c.queueSamples > 0 {
		s.Queue.AverageLength = float64(c.queueLengthSum) / float64(c.queueSamples)
	}
	if c.dispatched > 0 {
		s.Queue.AverageWait = c.queueWait / time.Duration(c.dispatched)
	}

	return s
}

// Reset zeros all counters and samples and restarts the window.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.windowStart = c.clock.Now()
	c.total, c.successful, c.failed = 0, 0, 0
	c.retries, c.retried, c.trips = 0, 0, 0
	clear(c.errors)
	c.latencies.reset()
	c.latencySum = 0
	c.queueSamples, c.queueLengthSum, c.queueMax = 0, 0, 0
	c.queueWait = 0
	c.dispatched, c.rejected = 0, 0
}
