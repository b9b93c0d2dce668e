package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msalinas92/cachebolt/internal/cachedresp"
	"github.com/msalinas92/cachebolt/internal/config"
	"github.com/msalinas92/cachebolt/internal/memcache"
	"github.com/msalinas92/cachebolt/internal/metrics"
	"github.com/msalinas92/cachebolt/internal/objectstore"
)

type fakeBackend struct {
	deletedPrefix string
	deleteErr     error
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Get(_ context.Context, _ string) ([]byte, error) { return nil, objectstore.ErrMiss }
func (f *fakeBackend) Put(_ context.Context, _ string, _ []byte) error { return nil }
func (f *fakeBackend) DeletePrefix(_ context.Context, prefix string) error {
	f.deletedPrefix = prefix
	return f.deleteErr
}
func (f *fakeBackend) Probe(_ context.Context) error { return nil }
func (f *fakeBackend) IsAvailabilityError(err error) bool {
	return err != nil && !errors.Is(err, objectstore.ErrMiss)
}

func newTestHandler(t *testing.T, backend objectstore.Backend) (*Handler, *memcache.Cache) {
	t.Helper()
	mem := memcache.New(config.Cache{LRUCapacityBytes: 1 << 20, TTLSeconds: 60})
	reg := metrics.New()
	h := New("app1", mem, backend, func() bool { return true }, reg, zerolog.Nop())
	return h, mem
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t, &fakeBackend{})
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsUnreadyBeforeFirstProbe(t *testing.T) {
	mem := memcache.New(config.Cache{LRUCapacityBytes: 1 << 20, TTLSeconds: 60})
	h := New("app1", mem, &fakeBackend{}, func() bool { return false }, metrics.New(), zerolog.Nop())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusMemoryReportsFingerprintKeyedEntries(t *testing.T) {
	h, mem := newTestHandler(t, &fakeBackend{})
	mem.Put("k1", "/v1/things", cachedresp.CachedResponse{Status: 200, Body: []byte("a")})

	req := httptest.NewRequest("GET", "/admin/status-memory", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]statusMemoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp, "k1")
	assert.Equal(t, "/v1/things", resp["k1"].Path)
	assert.Positive(t, resp["k1"].SizeBytes)
	assert.NotEmpty(t, resp["k1"].InsertedAt)
}

func TestStatusMemoryReturnsEmptyObjectWhenEmpty(t *testing.T) {
	h, _ := newTestHandler(t, &fakeBackend{})

	req := httptest.NewRequest("GET", "/admin/status-memory", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())
}

func TestPurgeMemoryOnlyLeavesBackendUntouched(t *testing.T) {
	backend := &fakeBackend{}
	h, mem := newTestHandler(t, backend)
	mem.Put("k1", "/v1/things", cachedresp.CachedResponse{Status: 200, Body: []byte("a")})

	req := httptest.NewRequest("DELETE", "/admin/cache", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, mem.Len())
	assert.Empty(t, backend.deletedPrefix)
}

func TestPurgeWithBackendClearsPrefix(t *testing.T) {
	backend := &fakeBackend{}
	h, mem := newTestHandler(t, backend)
	mem.Put("k1", "/v1/things", cachedresp.CachedResponse{Status: 200, Body: []byte("a")})

	req := httptest.NewRequest("DELETE", "/admin/cache?backend=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, mem.Len())
	assert.Equal(t, objectstore.Prefix("app1"), backend.deletedPrefix)
}

func TestPurgeWithBackendFailurePropagatesError(t *testing.T) {
	backend := &fakeBackend{deleteErr: errors.New("boom")}
	h, _ := newTestHandler(t, backend)

	req := httptest.NewRequest("DELETE", "/admin/cache?backend=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPurgeRejectsNonDelete(t *testing.T) {
	h, _ := newTestHandler(t, &fakeBackend{})
	req := httptest.NewRequest("GET", "/admin/cache", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	h, _ := newTestHandler(t, &fakeBackend{})
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cachebolt_")
}
