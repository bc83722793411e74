package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/pulse/pkg/metrics"
)

const backendMemory = "memory"

type item struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
	tags      []string
}

func (it item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

type shard struct {
	mu    sync.Mutex
	items map[string]item
}

// MemoryStore is a sharded in-process Store with native tag support.
// Expired entries are hidden on read and removed by a background janitor.
type MemoryStore struct {
	shards          []*shard
	shardCount      int
	janitorInterval time.Duration
	now             func() time.Time

	tagMu sync.Mutex
	tags  map[string]map[string]struct{}

	closeOnce sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewMemoryStore constructs a memory store and starts its janitor.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		shardCount:      16,
		janitorInterval: time.Minute,
		now:             time.Now,
		tags:            make(map[string]map[string]struct{}),
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]item)}
	}

	if s.janitorInterval > 0 {
		s.startJanitor()
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) closed() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	it, ok := sh.items[key]
	sh.mu.Unlock()
	if !ok || it.expired(s.now()) {
		return nil, ErrNotFound
	}
	return cloneBytes(it.value), nil
}

// Set implements Store.Set.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.SetTagged(ctx, key, value, ttl, nil)
}

// SetTagged implements TagStore.SetTagged. Overwriting a key replaces its
// tag memberships.
func (s *MemoryStore) SetTagged(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if s.closed() {
		return ErrClosed
	}
	tags = append([]string(nil), tags...)

	// tagMu is taken before any shard lock.
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	sh := s.shardFor(key)
	sh.mu.Lock()
	old, existed := sh.items[key]
	sh.items[key] = item{value: cloneBytes(value), expiresAt: s.expiry(ttl), tags: tags}
	sh.mu.Unlock()

	if existed {
		s.untag(key, old.tags)
	}
	for _, tag := range tags {
		set, ok := s.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			s.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// untag drops key from each tag set. s.tagMu must be held.
func (s *MemoryStore) untag(key string, tags []string) {
	for _, tag := range tags {
		if set, ok := s.tags[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.tags, tag)
			}
		}
	}
}

// FlushTag implements TagStore.FlushTag.
func (s *MemoryStore) FlushTag(ctx context.Context, tag string) (int, error) {
	if s.closed() {
		return 0, ErrClosed
	}
	s.tagMu.Lock()
	set := s.tags[tag]
	delete(s.tags, tag)
	s.tagMu.Unlock()

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return len(keys), s.Delete(ctx, keys...)
}

// Delete implements Store.Delete. Deleted keys leave their tag sets.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	if s.closed() {
		return ErrClosed
	}
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		it, ok := sh.items[key]
		delete(sh.items, key)
		sh.mu.Unlock()
		if ok {
			s.untag(key, it.tags)
		}
	}
	return nil
}

// Update implements Store.Update. The shard lock is held while fn runs,
// so fn must not call back into the store.
func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	if key == "" {
		return ErrInvalidKey
	}
	if s.closed() {
		return ErrClosed
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[key]
	if ok && it.expired(s.now()) {
		ok = false
	}
	var current []byte
	if ok {
		current = cloneBytes(it.value)
	}

	next, ttl, err := fn(current, ok)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	sh.items[key] = item{value: cloneBytes(next), expiresAt: s.expiry(ttl), tags: it.tags}
	return nil
}

// Keys implements Store.Keys. Results are sorted.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	now := s.now()
	var out []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, it := range sh.items {
			if strings.HasPrefix(k, prefix) && !it.expired(now) {
				out = append(out, k)
			}
		}
		sh.mu.Unlock()
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored entries including not yet swept expired ones.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// Capabilities implements Store.Capabilities.
func (s *MemoryStore) Capabilities() Capabilities {
	return Capabilities{Backend: backendMemory, NativeTags: true}
}

// Close stops the janitor. Subsequent operations return ErrClosed.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) startJanitor() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.janitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep removes expired entries and prunes their tag memberships.
func (s *MemoryStore) sweep() int {
	now := s.now()
	var removed []item
	var removedKeys []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, it := range sh.items {
			if it.expired(now) {
				delete(sh.items, k)
				removed = append(removed, it)
				removedKeys = append(removedKeys, k)
			}
		}
		sh.mu.Unlock()
	}

	s.tagMu.Lock()
	for i, it := range removed {
		s.untag(removedKeys[i], it.tags)
	}
	s.tagMu.Unlock()

	if len(removed) > 0 {
		metrics.RecordCacheInvalidation("expired")
	}
	return len(removed)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
