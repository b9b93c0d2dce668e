// Package memcache implements the hot in-memory tier of the two-tier
// cache (spec.md §4.3): a size-bounded LRU over CachedResponse values,
// each subject to a TTL, with probabilistic early refresh and a
// background pressure-eviction sweep.
package memcache

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/creachadair/mds/cache"
	"github.com/creachadair/scheddle"

	"github.com/msalinas92/cachebolt/internal/cachedresp"
	"github.com/msalinas92/cachebolt/internal/config"
)

// Entry is one memory-resident cache record: a MemoryEntry per spec.md
// §3, carrying the original request path alongside the cached response
// so the admin status-memory endpoint can report it.
type Entry struct {
	Response cachedresp.CachedResponse
	Path     string
	StoredAt time.Time
	Size     int
}

// StatusEntry is the admin-facing view of a resident entry, per spec.md
// §4.8's GET /admin/status-memory contract.
type StatusEntry struct {
	Path             string
	InsertedAt       time.Time
	SizeBytes        int
	TTLRemainingSecs int64
}

func entrySize(_ string, e Entry) int {
	return e.Size
}

// Cache is the bounded, TTL-aware memory tier. The zero value is not
// usable; construct with New.
//
// Eviction by capacity is delegated to the teacher's mds/cache LRU
// policy. keys mirrors the resident set under the same lock so that
// Drain, Snapshot, and the pressure sweep can iterate without requiring
// an enumeration method from the underlying policy.
type Cache struct {
	mu   sync.Mutex
	lru  *cache.Cache[string, Entry]
	keys map[string]struct{}

	ttl   time.Duration
	pctr  uint8 // refresh_percentage
	thold uint8 // memory_threshold

	sweep *scheddle.Queue
}

// New constructs a Cache bounded by cfg.LRUCapacityBytes, with entries
// expiring after cfg.TTLSeconds, modeled on the teacher's
// cache.New(cache.LRU[...](n).WithSize(...)) construction.
func New(cfg config.Cache) *Cache {
	return &Cache{
		lru:   cache.New(cache.LRU[string, Entry](int(cfg.LRUCapacityBytes)).WithSize(entrySize)),
		keys:  make(map[string]struct{}),
		ttl:   time.Duration(cfg.TTLSeconds) * time.Second,
		pctr:  cfg.RefreshPercentage,
		thold: cfg.MemoryThreshold,
	}
}

// Get returns the entry for key, or (_, false) if absent or expired. An
// expired entry is evicted as a side effect.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		delete(c.keys, key)
		return Entry{}, false
	}
	if c.ttl > 0 && time.Since(e.StoredAt) > c.ttl {
		c.removeLocked(key)
		return Entry{}, false
	}
	return e, true
}

// Put inserts or replaces the entry for key, recording the original
// request path alongside the response per spec.md §3's MemoryEntry.
func (c *Cache) Put(key, path string, resp cachedresp.CachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Put(key, Entry{
		Response: resp,
		Path:     path,
		StoredAt: time.Now(),
		Size:     len(cachedresp.Encode(resp)),
	})
	c.keys[key] = struct{}{}
}

// Remove evicts key, if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *Cache) removeLocked(key string) {
	c.lru.Remove(key)
	delete(c.keys, key)
}

// Drain clears every entry, used by the admin purge endpoint, which
// drops the memory tier unconditionally regardless of the backend flag.
func (c *Cache) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.keys {
		c.lru.Remove(key)
	}
	c.keys = make(map[string]struct{})
}

// Snapshot reports the keys currently resident. It does not consult or
// mutate TTL state.
func (c *Cache) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.keys))
	for key := range c.keys {
		keys = append(keys, key)
	}
	return keys
}

// Status reports every resident entry keyed by fingerprint hex, for the
// admin status-memory endpoint (spec.md §4.8). It does not consult or
// mutate TTL state, so an entry that has technically expired but has not
// yet been touched by Get may still appear with a zero or negative
// remaining TTL clamped to 0.
func (c *Cache) Status() map[string]StatusEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make(map[string]StatusEntry, len(c.keys))
	for key := range c.keys {
		e, ok := c.lru.Get(key)
		if !ok {
			continue
		}
		var remaining int64
		if c.ttl > 0 {
			remaining = int64((c.ttl - now.Sub(e.StoredAt)).Seconds())
			if remaining < 0 {
				remaining = 0
			}
		}
		out[key] = StatusEntry{
			Path:             e.Path,
			InsertedAt:       e.StoredAt,
			SizeBytes:        e.Size,
			TTLRemainingSecs: remaining,
		}
	}
	return out
}

// Len reports the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// NeedsRefresh implements the probabilistic early-refresh coin-flip
// (spec.md §4.3): on each request against a still-fresh entry, treat it
// as a miss with flat odds of refresh_percentage/100, independent of the
// entry's age. At refresh_percentage=100 every request misses; at 0,
// never.
func (c *Cache) NeedsRefresh(e Entry) bool {
	if c.pctr == 0 {
		return false
	}
	if c.pctr >= 100 {
		return true
	}
	return rand.Float64() < float64(c.pctr)/100
}

// pressureSafetyMarginPercent is how far under memory_threshold the
// sweep tries to drive usage before stopping, so it doesn't immediately
// re-trigger on the very next tick.
const pressureSafetyMarginPercent = 5

// StartPressureEviction runs a periodic sweep that queries actual
// process memory usage and, once it reaches memory_threshold percent,
// evicts entries oldest-inserted first until usage drops back under a
// safety margin or the cache is empty (spec.md §3, §4.3). The eviction
// order follows insertion time only; reads do not refresh an entry's
// place in it. Rescheduling
// itself via the teacher's scheddle.Queue until ctx is cancelled.
func (c *Cache) StartPressureEviction(ctx context.Context, interval time.Duration) {
	c.sweep = scheddle.NewQueue(nil)
	var tick func()
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		c.evictUnderPressure()
		c.sweep.After(interval, func(context.Context) { tick() })
	}
	c.sweep.After(interval, func(context.Context) { tick() })
}

// evictUnderPressure queries runtime.MemStats — the same API
// demonstrated in cuemby-warren's containerd PoC for reporting live
// process memory — and, once live heap usage is at or above
// memory_threshold percent of memory obtained from the OS, evicts the
// entry with the earliest insertion time repeatedly until usage falls
// below memory_threshold minus pressureSafetyMarginPercent, per spec.md
// §3's "queries process memory usage" pressure-eviction description.
func (c *Cache) evictUnderPressure() {
	var start runtime.MemStats
	runtime.ReadMemStats(&start)
	if start.Sys == 0 || float64(start.Alloc)/float64(start.Sys)*100 < float64(c.thold) {
		return
	}

	target := float64(c.thold) - pressureSafetyMarginPercent
	if target < 0 {
		target = 0
	}

	var m runtime.MemStats
	for {
		runtime.ReadMemStats(&m)
		if m.Sys == 0 {
			return
		}
		usagePercent := float64(m.Alloc) / float64(m.Sys) * 100
		if usagePercent < target {
			return
		}

		c.mu.Lock()
		oldestKey, found := c.oldestKeyLocked()
		if !found {
			c.mu.Unlock()
			return
		}
		c.lru.Remove(oldestKey)
		delete(c.keys, oldestKey)
		c.mu.Unlock()
	}
}

// oldestKeyLocked returns the resident key with the earliest StoredAt.
// Callers must hold c.mu.
func (c *Cache) oldestKeyLocked() (string, bool) {
	var oldestKey string
	var oldestAt time.Time
	found := false
	for key := range c.keys {
		e, ok := c.lru.Get(key)
		if !ok {
			continue
		}
		if !found || e.StoredAt.Before(oldestAt) {
			oldestKey, oldestAt, found = key, e.StoredAt, true
		}
	}
	return oldestKey, found
}
