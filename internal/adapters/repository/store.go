// Package repository defines the shared key/value store used by every
// diagnostic component, its backends, and the subject repository.
package repository

import (
	"context"
	"time"
)

// UpdateFunc receives the current value of a key (nil and false when absent)
// and returns the value to write with its TTL. Returning a nil value skips the
// write and leaves the key untouched. A non-nil error aborts the update and is
// returned from Update unchanged.
type UpdateFunc func(current []byte, exists bool) (next []byte, ttl time.Duration, err error)

// Capabilities describes optional backend features.
type Capabilities struct {
	// Backend is a short name used in logs and metrics.
	Backend string
	// NativeTags is true when the store implements TagStore.
	NativeTags bool
}

// Store is a key/value store with per-key TTL shared by all workers.
// A zero TTL means the entry does not expire.
type Store interface {
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Update performs an atomic read-modify-write on one key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Capabilities() Capabilities
	Close() error
}

// TagStore is implemented by backends that support group invalidation natively.
type TagStore interface {
	SetTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	// FlushTag deletes every entry carrying tag and returns how many were removed.
	FlushTag(ctx context.Context, tag string) (int, error)
}
