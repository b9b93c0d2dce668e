// Package objectstore defines the object-store backend abstraction
// (spec.md §4.2): a closed, tagged variant with four members (S3-
// compatible, GCS, Azure Blob, local filesystem) behind one interface.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrMiss indicates the requested object was not present. It is distinct
// from a backend failure: Miss never feeds the storage circuit.
var ErrMiss = errors.New("objectstore: miss")

// Backend is the uniform contract every storage variant implements.
// New backends are added by extending this closed set (spec.md §9); the
// interface itself is not meant to be implemented by external plugins.
type Backend interface {
	// Get returns the object's bytes, or ErrMiss if absent, or any other
	// error to indicate the backend itself failed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object's bytes.
	Put(ctx context.Context, key string, data []byte) error

	// DeletePrefix removes every object whose key has the given prefix,
	// using a bulk API where the backend supports one.
	DeletePrefix(ctx context.Context, prefix string) error

	// Probe performs a cheap reachability check, used by the storage
	// circuit's periodic health probe.
	Probe(ctx context.Context) error

	// IsAvailabilityError reports whether err represents the backend
	// itself being unreachable or misconfigured (auth, network, 5xx) as
	// opposed to a single missing object. Only availability errors feed
	// the storage circuit (spec.md §4.2, §4.5).
	IsAvailabilityError(err error) bool

	// Name identifies the backend for the persist_attempts/persist_errors
	// metric label (spec.md §6).
	Name() string
}

// ObjectKey returns the storage key for a fingerprint hex digest, per the
// layout in spec.md §4.2 and §6: "cache/{app_id}/{fingerprint_hex}".
func ObjectKey(appID, fingerprintHex string) string {
	return fmt.Sprintf("cache/%s/%s", appID, fingerprintHex)
}

// Prefix returns the object-store prefix scoping all of an app's cache
// entries, used by the admin purge endpoint (spec.md §4.8).
func Prefix(appID string) string {
	return fmt.Sprintf("cache/%s/", appID)
}
