// Package admin implements the control-plane HTTP surface served on
// admin_port: status, purge, metrics, and health (spec.md §4.8),
// generalized from the teacher-family's separate-listener-for-control
// pattern seen in danielloader-oci-pull-through/main.go's /healthz.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/msalinas92/cachebolt/internal/memcache"
	"github.com/msalinas92/cachebolt/internal/metrics"
	"github.com/msalinas92/cachebolt/internal/objectstore"
)

// Handler serves the admin endpoints. Construct with New and mount the
// result on its own listener — it must never share a port with the
// proxy handler, per spec.md §4.8.
type Handler struct {
	mux *http.ServeMux

	memory  *memcache.Cache
	backend objectstore.Backend
	ready   func() bool
	metrics *metrics.Registry
	appID   string
	log     zerolog.Logger
}

// New constructs the admin handler. ready reports whether the backend
// has completed its first successful probe (or is the local FS backend,
// which is ready immediately); it gates /healthz per SPEC_FULL.md's
// health-endpoint supplement.
func New(appID string, mem *memcache.Cache, backend objectstore.Backend, ready func() bool, reg *metrics.Registry, log zerolog.Logger) *Handler {
	h := &Handler{
		memory:  mem,
		backend: backend,
		ready:   ready,
		metrics: reg,
		appID:   appID,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/metrics", h.handleMetrics)
	mux.HandleFunc("/admin/status-memory", h.handleStatusMemory)
	mux.HandleFunc("/admin/cache", h.handlePurge)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		http.Error(w, "backend not yet probed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// statusMemoryEntry is one value in the GET /admin/status-memory
// response, keyed by fingerprint hex (spec.md §4.8).
type statusMemoryEntry struct {
	Path             string `json:"path"`
	InsertedAt       string `json:"inserted_at"`
	SizeBytes        int    `json:"size_bytes"`
	TTLRemainingSecs int64  `json:"ttl_remaining_secs"`
}

func (h *Handler) handleStatusMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot := h.memory.Status()
	resp := make(map[string]statusMemoryEntry, len(snapshot))
	for key, e := range snapshot {
		resp[key] = statusMemoryEntry{
			Path:             e.Path,
			InsertedAt:       e.InsertedAt.UTC().Format(time.RFC3339),
			SizeBytes:        e.SizeBytes,
			TTLRemainingSecs: e.TTLRemainingSecs,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handlePurge implements DELETE /admin/cache?backend=<bool>. The memory
// tier is always drained; the object-store prefix for this app is only
// cleared when backend=true, and the handler waits for that delete to
// complete before responding, per spec.md §4.8.
func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	includeBackend, _ := strconv.ParseBool(r.URL.Query().Get("backend"))
	h.metrics.PurgeRequestsTotal.WithLabelValues(strconv.FormatBool(includeBackend)).Inc()

	h.memory.Drain()

	if includeBackend {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		if err := h.backend.DeletePrefix(ctx, objectstore.Prefix(h.appID)); err != nil {
			h.log.Error().Err(err).Msg("backend purge failed")
			http.Error(w, "backend purge failed", http.StatusBadGateway)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}
