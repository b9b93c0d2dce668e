// Package circuit implements the two failure-isolation mechanisms
// described in spec.md §4.4 and §4.5: a per-URI latency/failure
// tracker that drives failover to cache-only serving, and a process-wide
// breaker over the object-store backend.
package circuit

import (
	"context"
	"time"

	"github.com/creachadair/scheddle"
	"github.com/sony/gobreaker"
)

// StorageCircuit wraps the object-store backend in a breaker that opens
// after storage_backend_failures consecutive availability errors and
// half-opens after backend_retry_interval_secs, per spec.md §4.5.
// Built on gobreaker.CircuitBreaker, the same library jordigilh-kubernaut
// wires for per-channel delivery isolation.
type StorageCircuit struct {
	cb    *gobreaker.CircuitBreaker[any]
	probe *scheddle.Queue
}

// NewStorageCircuit constructs a circuit that trips after
// consecutiveFailures in a row and probes again after retryInterval.
func NewStorageCircuit(consecutiveFailures uint32, retryInterval time.Duration) *StorageCircuit {
	settings := gobreaker.Settings{
		Name:    "objectstore",
		Timeout: retryInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
	return &StorageCircuit{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Allowed reports whether a storage operation may proceed right now,
// without performing one. proxyhandler and writer use this to skip the
// backend tier entirely while the circuit is open, per spec.md §4.7.
func (s *StorageCircuit) Allowed() bool {
	return s.cb.State() != gobreaker.StateOpen
}

// Do runs fn through the breaker, recording success or failure. Only
// call this with operations whose error already reflects
// Backend.IsAvailabilityError — a plain cache miss must never be passed
// through as a failure.
func (s *StorageCircuit) Do(_ context.Context, fn func() error) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// StartProbing runs probe through the breaker every interval, following
// the teacher's scheddle.Queue self-rescheduling pattern (the same one
// memcache.StartPressureEviction uses). A successful probe both records
// a breaker success — closing it once enough probes land during a
// half-open window — and lets the caller observe first-success via
// probe's own side effects, per spec.md §4.5's periodic health probe.
func (s *StorageCircuit) StartProbing(ctx context.Context, interval time.Duration, probe func(context.Context) error) {
	s.probe = scheddle.NewQueue(nil)
	var tick func()
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		s.Do(ctx, func() error { return probe(ctx) })
		s.probe.After(interval, func(context.Context) { tick() })
	}
	s.probe.After(interval, func(context.Context) { tick() })
}

// State reports the breaker's current state as "open", "half-open" or
// "closed".
func (s *StorageCircuit) State() string {
	switch s.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
