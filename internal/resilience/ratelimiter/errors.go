package ratelimiter

import (
	"errors"
	"fmt"

	"callguard/internal/resilience/classify"
)

var (
	// ErrQueueFull is returned when a destination queue is at capacity.
	// The newest entry is the one rejected.
	ErrQueueFull = errors.New("destination queue is full")

	// ErrClosed is returned for work submitted to, or still queued in, a closed limiter.
	ErrClosed = errors.New("rate limiter is closed")

	// ErrUnknownDestination is returned by administrative operations on a
	// destination that has never been configured or used.
	ErrUnknownDestination = errors.New("unknown destination")
)

// ExecutionError is returned when an operation failed and was not (or no
// longer) retried. It wraps the last underlying error.
type ExecutionError struct {
	// Destination is the destination the operation was sent to.
	Destination string

	// Attempts is the number of attempts made, including the first.
	Attempts int

	// Classification is the classification of the last error.
	Classification classify.Classification

	// Err is the last underlying error.
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("destination %q: failed after %d attempt(s) [%s]: %v",
		e.Destination, e.Attempts, e.Classification.Category, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
