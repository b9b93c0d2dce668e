package circuit

import (
	"net/http"
	"sync"
	"time"

	"github.com/msalinas92/cachebolt/internal/config"
)

// URICircuit tracks per-path latency and failure behavior against the
// downstream origin and decides when a path should fail over to
// cache-only serving, per spec.md §4.4. Path-specific latency
// thresholds are resolved by matching config.PathRule patterns in
// declaration order, falling back to the configured default.
type URICircuit struct {
	mu    sync.Mutex
	state map[string]*uriState

	rules      []config.PathRule
	defaultMax time.Duration
	window     time.Duration
}

// uriState is the per-path URICircuitState from spec.md §3: counts of
// recent latency violations and origin failures, plus the degraded flag
// and the deadline after which it may clear.
type uriState struct {
	violations    int
	failures      int
	degradedUntil time.Time
}

// NewURICircuit constructs a circuit using the given latency-failover
// configuration.
func NewURICircuit(cfg config.LatencyFailover) *URICircuit {
	return &URICircuit{
		state:      make(map[string]*uriState),
		rules:      cfg.PathRules,
		defaultMax: time.Duration(cfg.DefaultMaxLatencyMs) * time.Millisecond,
		window:     time.Duration(cfg.FailoverWindowSecs) * time.Second,
	}
}

// thresholdFor resolves the max-latency threshold for path by testing
// each configured rule in order and using the first match, per
// spec.md §4.4.
func (c *URICircuit) thresholdFor(path string) time.Duration {
	for _, r := range c.rules {
		if re := r.Compiled(); re != nil && re.MatchString(path) {
			return time.Duration(r.MaxLatencyMs) * time.Millisecond
		}
	}
	return c.defaultMax
}

// Threshold exposes the resolved max-latency threshold for path, used by
// proxyhandler to classify a downstream round trip for the
// latency_exceeded metrics independently of recording it.
func (c *URICircuit) Threshold(path string) time.Duration {
	return c.thresholdFor(path)
}

func (c *URICircuit) entry(path string) *uriState {
	s, ok := c.state[path]
	if !ok {
		s = &uriState{}
		c.state[path] = s
	}
	return s
}

// RecordLatency records the observed downstream latency for a request
// to path. A latency at or above the resolved threshold marks the path
// degraded for the configured failover window.
func (c *URICircuit) RecordLatency(path string, d time.Duration) {
	if d < c.thresholdFor(path) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(path)
	e.violations++
	e.degradedUntil = time.Now().Add(c.window)
}

// RecordFailure marks path degraded for the failover window following a
// downstream request that failed outright (connection error or 5xx).
func (c *URICircuit) RecordFailure(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(path)
	e.failures++
	e.degradedUntil = time.Now().Add(c.window)
}

// RecordSuccess decays path's violation and failure counters on a fast,
// successful response, per spec.md §4.4. A response at or above the
// latency threshold is not "fast" and is left to RecordLatency instead;
// it does not clear an already-set degraded window early, since a
// single good response mid-window does not prove the origin recovered.
func (c *URICircuit) RecordSuccess(path string, d time.Duration) {
	if d >= c.thresholdFor(path) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[path]
	if !ok {
		return
	}
	if s.violations > 0 {
		s.violations--
	}
	if s.failures > 0 {
		s.failures--
	}
}

// ShouldFailover reports whether path is currently degraded and
// requests to it should be served from cache only, bypassing the
// origin (spec.md §4.4, §4.7).
func (c *URICircuit) ShouldFailover(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[path]
	if !ok {
		return false
	}
	return time.Now().Before(s.degradedUntil)
}

// ClassifyResponse reports whether an upstream HTTP response should be
// treated as a failure for circuit purposes.
func ClassifyResponse(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

// Snapshot reports which paths are currently degraded.
func (c *URICircuit) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var degraded []string
	for path, s := range c.state {
		if now.Before(s.degradedUntil) {
			degraded = append(degraded, path)
		}
	}
	return degraded
}
