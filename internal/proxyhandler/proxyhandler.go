// Package proxyhandler implements CacheBolt's central request state
// machine (spec.md §4.7): fingerprint derivation, failover-aware cache
// lookup, bounded admission, and the outcome dispatch that decides
// what to persist after a downstream round trip.
package proxyhandler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"

	"github.com/msalinas92/cachebolt/internal/cachedresp"
	"github.com/msalinas92/cachebolt/internal/circuit"
	"github.com/msalinas92/cachebolt/internal/config"
	"github.com/msalinas92/cachebolt/internal/keyhash"
	"github.com/msalinas92/cachebolt/internal/memcache"
	"github.com/msalinas92/cachebolt/internal/metrics"
	"github.com/msalinas92/cachebolt/internal/objectstore"
	"github.com/msalinas92/cachebolt/internal/writer"
)

// disposition values mirror the teacher's X-Cache convention from
// lib/revproxy/revproxy.go, generalized to CacheBolt's two-tier/failover
// model.
const (
	dispMemoryHit   = "hit, memory"
	dispBackendHit  = "hit, backend"
	dispFailoverHit = "hit, failover"
	dispFetchCached = "fetch, cached"
	dispFetchPlain  = "fetch, uncached"
	dispFetchFailed = "fetch, failed"
)

// Handler is CacheBolt's http.Handler for the proxy listener.
type Handler struct {
	Config          *config.Config
	Memory          *memcache.Cache
	Backend         objectstore.Backend
	StorageCircuit  *circuit.StorageCircuit
	URICircuit      *circuit.URICircuit
	Writer          *writer.Writer
	Metrics         *metrics.Registry
	Log             zerolog.Logger
	DownstreamBase  *url.URL
	DownstreamClient *http.Client
	Admission       *semaphore.Weighted
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fp := keyhash.DeriveFromRequest(r, h.Config.IgnoredHeaders)
	key := fp.Hex()
	uri := r.URL.Path

	h.Metrics.ProxyRequestsTotal.WithLabelValues(uri).Inc()

	// Step 2 of spec.md §4.7: a degraded URI is served from cache only.
	// A miss here means the origin is unreachable and nothing stale is
	// on hand, so the request is rejected rather than forwarded to a
	// failing origin (scenario S3).
	if h.URICircuit.ShouldFailover(uri) {
		if entry, tier, ok := h.tryCache(r.Context(), key); ok {
			h.Metrics.FailoverTotal.WithLabelValues(uri).Inc()
			h.recordFallbackHit(tier)
			h.serveCached(w, entry, dispFailoverHit, key)
			h.Log.Debug().Str("path", uri).Str("tier", tier).Msg("served from failover cache")
			return
		}
		h.Metrics.FallbackMissTotal.Inc()
		h.Log.Warn().Str("path", uri).Msg("failover active and cache empty, rejecting")
		http.Error(w, "origin degraded and no cached response available", http.StatusBadGateway)
		return
	}

	if entry, ok := h.Memory.Get(key); ok && !h.Memory.NeedsRefresh(entry) {
		h.Metrics.MemoryHitsTotal.WithLabelValues(uri).Inc()
		h.serveCached(w, entry.Response, dispMemoryHit, key)
		return
	}

	if !h.Admission.TryAcquire(1) {
		// Step 5 of spec.md §4.7: re-check memory before rejecting — a
		// concurrent forwarder may have just populated it.
		if entry, ok := h.Memory.Get(key); ok && !h.Memory.NeedsRefresh(entry) {
			h.Metrics.MemoryHitsTotal.WithLabelValues(uri).Inc()
			h.serveCached(w, entry.Response, dispMemoryHit, key)
			return
		}
		h.Metrics.RejectedDueToConcurrency.WithLabelValues(uri).Inc()
		http.Error(w, "too many concurrent requests", http.StatusBadGateway)
		return
	}
	defer h.Admission.Release(1)

	h.forward(w, r, key)
}

// tryCache checks memory then, if the storage circuit allows it, the
// object-store backend, per spec.md §4.7's try_cache fallback.
func (h *Handler) tryCache(ctx context.Context, key string) (cachedresp.CachedResponse, string, bool) {
	if e, ok := h.Memory.Get(key); ok {
		return e.Response, "memory", true
	}
	if !h.StorageCircuit.Allowed() {
		return cachedresp.CachedResponse{}, "", false
	}

	var resp cachedresp.CachedResponse
	err := h.StorageCircuit.Do(ctx, func() error {
		data, getErr := h.Backend.Get(ctx, objectstore.ObjectKey(h.Config.AppID, key))
		if getErr != nil {
			if !h.Backend.IsAvailabilityError(getErr) {
				return nil // plain miss, not a circuit failure
			}
			return getErr
		}
		decoded, decErr := cachedresp.Decode(data)
		if decErr != nil {
			return nil
		}
		resp = decoded
		return nil
	})
	if err != nil || resp.Status == 0 {
		return cachedresp.CachedResponse{}, "", false
	}
	return resp, "backend", true
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, key string) {
	uri := r.URL.Path
	outURL := *h.DownstreamBase
	outURL.Path = singleJoiningSlash(h.DownstreamBase.Path, uri)
	outURL.RawQuery = r.URL.RawQuery

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.Config.DownstreamTimeoutSecs)*time.Second)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, outURL.String(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	outReq.Header = r.Header.Clone()

	start := time.Now()
	resp, err := h.DownstreamClient.Do(outReq)
	elapsed := time.Since(start)

	if err != nil || circuit.ClassifyResponse(resp, err) {
		h.URICircuit.RecordFailure(uri)
		h.Metrics.DownstreamFailuresTotal.WithLabelValues(uri).Inc()
		if entry, tier, ok := h.tryCache(r.Context(), key); ok {
			h.recordFallbackHit(tier)
			h.Log.Warn().Err(err).Str("tier", tier).Msg("downstream failed, serving stale cache")
			h.serveCached(w, entry, dispFetchFailed, key)
			return
		}
		h.Metrics.FallbackMissTotal.Inc()
		http.Error(w, "downstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	elapsedMs := float64(elapsed.Milliseconds())
	h.Metrics.ProxyRequestLatencyMs.WithLabelValues(uri).Observe(elapsedMs)
	if elapsed >= h.URICircuit.Threshold(uri) {
		h.Metrics.LatencyExceededMs.WithLabelValues(uri).Observe(elapsedMs)
		h.Metrics.LatencyExceededTotal.WithLabelValues(uri).Inc()
		h.URICircuit.RecordLatency(uri, elapsed)
	} else {
		h.URICircuit.RecordSuccess(uri, elapsed)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "reading downstream response", http.StatusBadGateway)
		return
	}

	cr := toCachedResponse(resp, body)
	disposition := dispFetchPlain
	if isCacheable(resp.StatusCode) {
		disposition = dispFetchCached
		// OPEN QUESTION DECISION #2: a degraded origin's successes must
		// not refresh memory or the object store.
		if !h.URICircuit.ShouldFailover(uri) {
			h.Memory.Put(key, uri, cr)
			h.Metrics.MemoryStoreTotal.WithLabelValues(uri).Inc()
			if h.StorageCircuit.Allowed() {
				h.Writer.Enqueue(objectstore.ObjectKey(h.Config.AppID, key), cr)
			}
		}
	}

	writeResponse(w, cr, disposition, key)
}

func (h *Handler) recordFallbackHit(tier string) {
	switch tier {
	case "memory":
		h.Metrics.MemoryFallbackHitsTotal.Inc()
	case "backend":
		h.Metrics.PersistentFallbackHitsTotal.Inc()
	}
}

func (h *Handler) serveCached(w http.ResponseWriter, resp cachedresp.CachedResponse, disposition, key string) {
	writeResponse(w, resp, disposition, key)
}

func isCacheable(status int) bool {
	return status == http.StatusOK
}

func toCachedResponse(resp *http.Response, body []byte) cachedresp.CachedResponse {
	headers := make([]cachedresp.HeaderPair, 0, len(resp.Header))
	for name, values := range resp.Header {
		for _, v := range values {
			headers = append(headers, cachedresp.HeaderPair{Name: name, Value: v})
		}
	}
	return cachedresp.CachedResponse{
		Status:  uint16(resp.StatusCode),
		Headers: headers,
		Body:    body,
	}
}

func writeResponse(w http.ResponseWriter, resp cachedresp.CachedResponse, disposition, key string) {
	wh := w.Header()
	for _, h := range resp.Headers {
		wh.Add(h.Name, h.Value)
	}
	wh.Set("X-Cache", disposition)
	wh.Set("X-Cache-Id", key)
	w.WriteHeader(int(resp.Status))
	w.Write(resp.Body)
}

// singleJoiningSlash is lifted from net/http/httputil's ReverseProxy,
// which the teacher's revproxy.Server also builds on.
func singleJoiningSlash(a, b string) string {
	aslash := len(a) > 0 && a[len(a)-1] == '/'
	bslash := len(b) > 0 && b[0] == '/'
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	default:
		return a + b
	}
}
