package repository

import (
	"context"
	"sync/atomic"
	"time"
)

// FaultyStore wraps a Store and fails every operation with ErrUnavailable
// while tripped. It is used to exercise fail-open paths.
type FaultyStore struct {
	Store
	tripped atomic.Bool
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner Store) *FaultyStore {
	return &FaultyStore{Store: inner}
}

// Trip makes every subsequent call fail until Restore.
func (f *FaultyStore) Trip() { f.tripped.Store(true) }

// Restore resumes delegation to the wrapped store.
func (f *FaultyStore) Restore() { f.tripped.Store(false) }

func (f *FaultyStore) fail() bool { return f.tripped.Load() }

func (f *FaultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.fail() {
		return nil, ErrUnavailable
	}
	return f.Store.Get(ctx, key)
}

func (f *FaultyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fail() {
		return ErrUnavailable
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func (f *FaultyStore) Delete(ctx context.Context, keys ...string) error {
	if f.fail() {
		return ErrUnavailable
	}
	return f.Store.Delete(ctx, keys...)
}

func (f *FaultyStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if f.fail() {
		return ErrUnavailable
	}
	return f.Store.Update(ctx, key, fn)
}

func (f *FaultyStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if f.fail() {
		return nil, ErrUnavailable
	}
	return f.Store.Keys(ctx, prefix)
}

// Capabilities hides native tagging so callers exercise the registry fallback.
func (f *FaultyStore) Capabilities() Capabilities {
	c := f.Store.Capabilities()
	c.NativeTags = false
	return c
}
