// Package dedup collapses concurrent identical requests into a single execution.
//
// Requests are identified by a destination and a fingerprint of their content.
// While an operation for a key is in flight, later callers with the same key
// wait for and share its result instead of executing again. Once it settles
// the key is released, so a later non-overlapping call executes afresh.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"callguard/internal/resilience/metrics"
)

// Operation is a unit of work whose result may be shared between callers.
type Operation func(ctx context.Context) (any, error)

// Stats holds cumulative deduplication counters.
type Stats struct {
	Total          int64   `json:"total"`
	Deduplicated   int64   `json:"deduplicated"`
	Unique         int64   `json:"unique"`
	SavingsPercent float64 `json:"savings_percent"`
	InFlight       int     `json:"in_flight"`
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClock sets the clock used to timestamp in-flight entries.
func WithClock(clock metrics.Clock) Option {
	return func(d *Deduplicator) {
		d.clock = clock
	}
}

// WithRecorder sets the exporter for dedup decisions.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Deduplicator) {
		d.recorder = r
	}
}

// inflight tracks one executing operation for the stale sweep.
type inflight struct {
	destination string
	started     time.Time
}

// Deduplicator guarantees at most one concurrent execution per key.
// It is safe for concurrent use.
type Deduplicator struct {
	group    singleflight.Group
	clock    metrics.Clock
	recorder metrics.Recorder

	mu      sync.Mutex
	entries map[string]*inflight

	total        atomic.Int64
	deduplicated atomic.Int64
	unique       atomic.Int64
}

// New creates a Deduplicator.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		clock:    metrics.SystemClock{},
		recorder: metrics.NewNoOpRecorder(),
		entries:  make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Key returns the deduplication key for a destination and fingerprint.
func Key(destination, fingerprint string) string {
	sum := sha256.Sum256([]byte(destination + "\x00" + fingerprint))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a stable identifier for v.
// Map keys are serialized in sorted order, so equal content always yields
// the same fingerprint regardless of insertion order.
func Fingerprint(v any) (string, error) {
	data, err := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Deduplicate runs op unless an operation with the same destination and
// fingerprint is already in flight, in which case it waits for that
// operation and returns its result.
//
// The shared operation runs with the context of the caller that started it.
func (d *Deduplicator) Deduplicate(ctx context.Context, destination, fingerprint string, op Operation) (any, error) {
	key := Key(destination, fingerprint)
	d.total.Add(1)

	leader := false
	result, err, _ := d.group.Do(key, func() (any, error) {
		leader = true
		d.unique.Add(1)
		d.recorder.RecordDedup(destination, metrics.DedupUnique)

		entry := d.register(key, destination)
		defer d.release(key, entry)

		return op(ctx)
	})

	if !leader {
		d.deduplicated.Add(1)
		d.recorder.RecordDedup(destination, metrics.DedupDeduplicated)
		slog.Debug("request deduplicated",
			slog.String("destination", destination),
			slog.String("key", key[:12]))
	}

	return result, err
}

// Do is the typed form of Deduplicate.
func Do[T any](ctx context.Context, d *Deduplicator, destination, fingerprint string, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := d.Deduplicate(ctx, destination, fingerprint, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})

	var zero T
	if err != nil {
		if v, ok := result.(T); ok {
			return v, err
		}
		return zero, err
	}
	v, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

func (d *Deduplicator) register(key, destination string) *inflight {
	entry := &inflight{destination: destination, started: d.clock.Now()}

	d.mu.Lock()
	d.entries[key] = entry
	d.mu.Unlock()

	return entry
}

// release runs in the leader before any waiter is woken, so a caller that
// observes the result can never join the settled call.
func (d *Deduplicator) release(key string, entry *inflight) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.entries[key] == entry {
		delete(d.entries, key)
		d.group.Forget(key)
	}
}

// CleanupStale releases keys whose operation has been in flight longer than
// maxAge, so the next caller executes afresh instead of joining an operation
// that may never settle. It returns the number of entries removed.
func (d *Deduplicator) CleanupStale(maxAge time.Duration) int {
	cutoff := d.clock.Now().Add(-maxAge)

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, entry := range d.entries {
		if entry.started.Before(cutoff) {
			d.group.Forget(key)
			delete(d.entries, key)
			removed++
		}
	}

	if removed > 0 {
		slog.Info("removed stale dedup entries",
			slog.Int("removed", removed),
			slog.Duration("max_age", maxAge))
	}

	return removed
}

// InFlight returns the number of operations currently executing.
func (d *Deduplicator) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stats returns cumulative counters.
func (d *Deduplicator) Stats() Stats {
	s := Stats{
		Total:        d.total.Load(),
		Deduplicated: d.deduplicated.Load(),
		Unique:       d.unique.Load(),
		InFlight:     d.InFlight(),
	}
	if s.Total > 0 {
		s.SavingsPercent = float64(s.Deduplicated) / float64(s.Total) * 100
	}
	return s
}
