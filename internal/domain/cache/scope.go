package cache

import (
	"sync"

	"github.com/okian/pulse/pkg/metrics"
)

// Scope is the in-process tier. It lives for one logical unit of work
// (a request or a job) and is never shared across units.
type Scope struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{entries: make(map[string][]byte)}
}

// Get returns the scoped value. A nil scope always misses.
func (s *Scope) Get(key string) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Put stores a value. A nil scope ignores writes.
func (s *Scope) Put(key string, v []byte) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.entries[key] = v
	s.mu.Unlock()
}

// Forget drops one key.
func (s *Scope) Forget(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len returns the number of scoped entries.
func (s *Scope) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear empties the scope at the end of the unit of work and returns how many entries it held.
func (s *Scope) Clear() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string][]byte)
	s.mu.Unlock()
	metrics.UpdateScopeEntries(n)
	return n
}
