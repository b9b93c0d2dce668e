// Package config loads and validates CacheBolt's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps a configuration problem detected at load time.
// Callers should treat it as fatal: abort the process with a diagnostic
// on stdout/stderr, per spec.md §7 (logging is not up yet at this point).
type ErrInvalid struct {
	Reason string
}

func (e *ErrInvalid) Error() string { return "config invalid: " + e.Reason }

// PathRule maps a path regex to a latency threshold.
type PathRule struct {
	Pattern      string `yaml:"pattern"`
	MaxLatencyMs uint32 `yaml:"max_latency_ms"`
	compiled     *regexp.Regexp
}

// Compiled returns the regex compiled from Pattern. Load populates this
// once at startup so the hot path never compiles a regex per request.
func (r *PathRule) Compiled() *regexp.Regexp { return r.compiled }

// Compile compiles Pattern and caches the result for Compiled. Load
// calls this for every rule during validation; tests constructing a
// PathRule directly must call it too before Compiled will return
// anything.
func (r *PathRule) Compile() error {
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return err
	}
	r.compiled = re
	return nil
}

// LatencyFailover holds the per-URI circuit's threshold configuration.
type LatencyFailover struct {
	DefaultMaxLatencyMs uint32     `yaml:"default_max_latency_ms"`
	PathRules           []PathRule `yaml:"path_rules"`

	// FailoverWindowSecs is the cooldown a URI stays degraded for after a
	// violation, before should_failover may clear. spec.md §4.4 calls this
	// "failover_window" but leaves the unit/key open; we fix it here.
	FailoverWindowSecs uint32 `yaml:"failover_window_secs"`
}

// Cache holds the two-tier cache's tunables.
type Cache struct {
	MemoryThreshold   uint8  `yaml:"memory_threshold"`
	RefreshPercentage uint8  `yaml:"refresh_percentage"`
	TTLSeconds        uint32 `yaml:"ttl_seconds"`

	// LRUCapacityBytes bounds the sum of MemoryEntry.SizeBytes, per the
	// invariant in spec.md §3. spec.md's prose names an "LRU capacity" but
	// never gives it a YAML key; we add one here.
	LRUCapacityBytes int64 `yaml:"lru_capacity_bytes"`
}

// Config is the fully validated, immutable snapshot threaded to every
// component at startup. Nothing reads the file after Load returns.
type Config struct {
	AppID                    string          `yaml:"app_id"`
	ProxyPort                uint16          `yaml:"proxy_port"`
	AdminPort                uint16          `yaml:"admin_port"`
	MaxConcurrentRequests    uint32          `yaml:"max_concurrent_requests"`
	DownstreamBaseURL        string          `yaml:"downstream_base_url"`
	DownstreamTimeoutSecs    uint32          `yaml:"downstream_timeout_secs"`
	StorageBackend           string          `yaml:"storage_backend"`
	GCSBucket                string          `yaml:"gcs_bucket"`
	S3Bucket                 string          `yaml:"s3_bucket"`
	AzureContainer           string          `yaml:"azure_container"`
	LocalPath                string          `yaml:"local_path"`
	Cache                    Cache           `yaml:"cache"`
	LatencyFailover          LatencyFailover `yaml:"latency_failover"`
	IgnoredHeaders           []string        `yaml:"ignored_headers"`
	StorageBackendFailures   uint32          `yaml:"storage_backend_failures"`
	BackendRetryIntervalSecs uint32          `yaml:"backend_retry_interval_secs"`
	ShutdownGraceSecs        uint32          `yaml:"shutdown_grace_period_secs"`
	LogLevel                 string          `yaml:"log_level"`
}

// Load reads and validates the YAML file at path, applying defaults for
// unset fields per spec.md §6.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrInvalid{Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ErrInvalid{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ProxyPort:                3000,
		AdminPort:                3001,
		MaxConcurrentRequests:    64,
		DownstreamTimeoutSecs:    30,
		StorageBackendFailures:   5,
		BackendRetryIntervalSecs: 30,
		ShutdownGraceSecs:        10,
		LogLevel:                 "info",
		Cache: Cache{
			MemoryThreshold:   85,
			RefreshPercentage: 0,
			TTLSeconds:        60,
			LRUCapacityBytes:  256 << 20,
		},
		LatencyFailover: LatencyFailover{
			DefaultMaxLatencyMs: 2000,
			FailoverWindowSecs:  30,
		},
	}
}

func (c *Config) validate() error {
	if c.AppID == "" {
		return &ErrInvalid{Reason: "app_id is required"}
	}
	if c.DownstreamBaseURL == "" {
		return &ErrInvalid{Reason: "downstream_base_url is required"}
	}
	switch c.StorageBackend {
	case "s3":
		if c.S3Bucket == "" {
			return &ErrInvalid{Reason: "s3_bucket is required when storage_backend is s3"}
		}
	case "gcs":
		if c.GCSBucket == "" {
			return &ErrInvalid{Reason: "gcs_bucket is required when storage_backend is gcs"}
		}
	case "azure":
		if c.AzureContainer == "" {
			return &ErrInvalid{Reason: "azure_container is required when storage_backend is azure"}
		}
	case "local":
		if c.LocalPath == "" {
			return &ErrInvalid{Reason: "local_path is required when storage_backend is local"}
		}
	default:
		return &ErrInvalid{Reason: fmt.Sprintf("storage_backend must be one of gcs|s3|azure|local, got %q", c.StorageBackend)}
	}
	if c.Cache.MemoryThreshold == 0 || c.Cache.MemoryThreshold > 100 {
		return &ErrInvalid{Reason: "cache.memory_threshold must be in (0,100]"}
	}
	if c.Cache.RefreshPercentage > 100 {
		return &ErrInvalid{Reason: "cache.refresh_percentage must be in [0,100]"}
	}

	for i := range c.LatencyFailover.PathRules {
		r := &c.LatencyFailover.PathRules[i]
		if err := r.Compile(); err != nil {
			return &ErrInvalid{Reason: fmt.Sprintf("latency_failover.path_rules[%d].pattern: %v", i, err)}
		}
	}

	lowered := make([]string, len(c.IgnoredHeaders))
	for i, h := range c.IgnoredHeaders {
		lowered[i] = toLowerASCII(h)
	}
	c.IgnoredHeaders = lowered

	return nil
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
