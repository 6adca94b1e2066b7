package metrics

import "time"

// NoOpRecorder implements the Recorder interface with no-op implementations.
//
// Useful for tests and for running without an exporter.
type NoOpRecorder struct{}

// NewNoOpRecorder creates a new NoOpRecorder instance.
func NewNoOpRecorder() *NoOpRecorder {
	return &NoOpRecorder{}
}

// RecordAttempt is a no-op implementation.
func (r *NoOpRecorder) RecordAttempt(destination, outcome string, latency time.Duration) {}

// RecordError is a no-op implementation.
func (r *NoOpRecorder) RecordError(destination, category string) {}

// RecordRetry is a no-op implementation.
func (r *NoOpRecorder) RecordRetry(destination string) {}

// RecordCircuitTrip is a no-op implementation.
func (r *NoOpRecorder) RecordCircuitTrip(destination string) {}

// SetCircuitState is a no-op implementation.
func (r *NoOpRecorder) SetCircuitState(destination string, state int) {}

// SetQueueLength is a no-op implementation.
func (r *NoOpRecorder) SetQueueLength(destination string, length int) {}

// RecordQueueWait is a no-op implementation.
func (r *NoOpRecorder) RecordQueueWait(destination string, wait time.Duration) {}

// RecordQueueRejected is a no-op implementation.
func (r *NoOpRecorder) RecordQueueRejected(destination string) {}

// RecordDedup is a no-op implementation.
func (r *NoOpRecorder) RecordDedup(destination, result string) {}
