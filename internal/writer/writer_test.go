package writer

import (
	"context"
	"errors"
	"sync"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msalinas92/cachebolt/internal/cachedresp"
	"github.com/msalinas92/cachebolt/internal/circuit"
	"github.com/msalinas92/cachebolt/internal/metrics"
)

type fakeBackend struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func newFakeBackend() *fakeBackend { return &fakeBackend{puts: make(map[string][]byte)} }

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.puts[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return data, nil
}
func (f *fakeBackend) Put(_ context.Context, key string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key] = data
	return nil
}
func (f *fakeBackend) DeletePrefix(_ context.Context, _ string) error { return nil }
func (f *fakeBackend) Probe(_ context.Context) error                 { return nil }
func (f *fakeBackend) IsAvailabilityError(err error) bool            { return err != nil }

func (f *fakeBackend) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.puts[key]
	return ok
}

func TestEnqueuePersists(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, circuit.NewStorageCircuit(5, time.Second), metrics.New(), 8)
	w.Start()
	defer w.Stop()

	ok := w.Enqueue("k1", cachedresp.CachedResponse{Status: 200, Body: []byte("hi")})
	require.True(t, ok)

	require.Eventually(t, func() bool { return backend.has("k1") }, time.Second, time.Millisecond)
}

func TestEnqueueDropsOnOverflow(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errors.New("stall") // unused: no consumer runs, so the queue stays full
	w := New(backend, circuit.NewStorageCircuit(100, time.Second), metrics.New(), 1)

	// Fill the queue without starting the consumer.
	first := w.Enqueue("k1", cachedresp.CachedResponse{Body: []byte("a")})
	second := w.Enqueue("k2", cachedresp.CachedResponse{Body: []byte("b")})

	assert.True(t, first)
	assert.False(t, second)
}

func TestPersistSkippedWhenCircuitOpen(t *testing.T) {
	backend := newFakeBackend()
	sc := circuit.NewStorageCircuit(1, time.Minute)
	sc.Do(context.Background(), func() error { return errors.New("boom") })
	require.False(t, sc.Allowed())

	w := New(backend, sc, metrics.New(), 8)
	w.Start()
	defer w.Stop()

	w.Enqueue("k1", cachedresp.CachedResponse{Body: []byte("x")})
	time.Sleep(20 * time.Millisecond)

	assert.False(t, backend.has("k1"))
}
