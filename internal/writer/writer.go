// Package writer implements CacheBolt's async cache writer (spec.md
// §4.6): a bounded, non-blocking handoff from the request path to a
// single serial consumer that persists responses to the object store.
package writer

import (
	"context"

	"github.com/creachadair/taskgroup"

	"github.com/msalinas92/cachebolt/internal/cachedresp"
	"github.com/msalinas92/cachebolt/internal/circuit"
	"github.com/msalinas92/cachebolt/internal/metrics"
	"github.com/msalinas92/cachebolt/internal/objectstore"
)

type job struct {
	key  string
	resp cachedresp.CachedResponse
}

// Writer owns the queue and the single background consumer that drains
// it, following the teacher's taskgroup.New(nil).Limit(n) pattern with
// n fixed at 1 so persists to a given backend never race each other.
type Writer struct {
	backend objectstore.Backend
	circuit *circuit.StorageCircuit
	metrics *metrics.Registry

	queue chan job
	tasks *taskgroup.Group
	start func(taskgroup.Task)
}

// New constructs a Writer bound to backend, with a queue capacity of
// depth. Call Start before enqueuing.
func New(backend objectstore.Backend, sc *circuit.StorageCircuit, reg *metrics.Registry, depth int) *Writer {
	return &Writer{
		backend: backend,
		circuit: sc,
		metrics: reg,
		queue:   make(chan job, depth),
	}
}

// Start spins up the single consumer goroutine. It must be called
// exactly once before Enqueue.
func (w *Writer) Start() {
	w.tasks, w.start = taskgroup.New(nil).Limit(1)
	w.start(func() error {
		for j := range w.queue {
			w.persist(j)
		}
		return nil
	})
}

// Stop closes the queue and waits for the consumer to drain it.
func (w *Writer) Stop() error {
	close(w.queue)
	return w.tasks.Wait()
}

// Enqueue hands a response off for persistence without blocking the
// caller. If the queue is full the write is dropped, per spec.md §4.6
// ("drop on overflow" — the memory tier still holds the fresh entry; the
// dropped persist is not retried).
func (w *Writer) Enqueue(key string, resp cachedresp.CachedResponse) bool {
	select {
	case w.queue <- job{key: key, resp: resp}:
		w.metrics.WriterQueueDepth.Set(float64(len(w.queue)))
		return true
	default:
		w.metrics.WriterDroppedTotal.Inc()
		return false
	}
}

// persist implements spec.md §4.6's dequeue handling: if the storage
// breaker is open, skip (count as an error) without calling the backend
// at all; otherwise serialize and put, counting the outcome as either an
// attempt (Ok) or an error (Err) — never both for a single dequeue.
func (w *Writer) persist(j job) {
	w.metrics.WriterQueueDepth.Set(float64(len(w.queue)))

	if !w.circuit.Allowed() {
		w.metrics.PersistErrorsTotal.WithLabelValues(w.backend.Name()).Inc()
		return
	}

	var putErr error
	doErr := w.circuit.Do(context.Background(), func() error {
		data := cachedresp.Encode(j.resp)
		putErr = w.backend.Put(context.Background(), j.key, data)
		if putErr != nil && !w.backend.IsAvailabilityError(putErr) {
			// A non-availability error (e.g. a malformed key) should
			// not count against the breaker.
			return nil
		}
		return putErr
	})
	if putErr != nil || doErr != nil {
		// doErr alone means the breaker refused the call without running it.
		w.metrics.PersistErrorsTotal.WithLabelValues(w.backend.Name()).Inc()
		return
	}
	w.metrics.PersistAttemptsTotal.WithLabelValues(w.backend.Name()).Inc()
}
