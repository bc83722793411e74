package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithJanitorInterval sets how often expired entries are swept. Zero disables the janitor.
func WithJanitorInterval(interval time.Duration) Option {
	return func(s *MemoryStore) {
		if interval >= 0 {
			s.janitorInterval = interval
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}
