package metrics

import "time"

// Clock provides an abstraction for time operations to enable testing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock is a Clock implementation that uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Outcome labels for recorded attempts.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Dedup result labels.
const (
	DedupUnique       = "unique"
	DedupDeduplicated = "deduplicated"
)

// Recorder exports resilience events to an external metrics backend.
//
// Every Collector mirrors its records into a Recorder, so the in-process
// snapshot and the exported series always see the same events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// RecordAttempt records one operation attempt and its latency.
	// outcome is OutcomeSuccess or OutcomeFailure.
	RecordAttempt(destination, outcome string, latency time.Duration)

	// RecordError records a classified failure.
	RecordError(destination, category string)

	// RecordRetry records a scheduled retry.
	RecordRetry(destination string)

	// RecordCircuitTrip records a call rejected by an open circuit.
	RecordCircuitTrip(destination string)

	// SetCircuitState records the circuit state (0=closed, 1=open, 2=half-open).
	SetCircuitState(destination string, state int)

	// SetQueueLength records the current queue length.
	SetQueueLength(destination string, length int)

	// RecordQueueWait records how long an entry waited before dispatch.
	RecordQueueWait(destination string, wait time.Duration)

	// RecordQueueRejected records an entry rejected by a full queue.
	RecordQueueRejected(destination string)

	// RecordDedup records a deduplicator decision.
	// result is DedupUnique or DedupDeduplicated.
	RecordDedup(destination, result string)
}
