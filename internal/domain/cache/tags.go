package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// tagIndex maps member keys to their expiry in unix nanoseconds.
// It backs tag invalidation on stores without native tags.
type tagIndex map[string]int64

func decodeIndex(b []byte) tagIndex {
	idx := tagIndex{}
	if len(b) > 0 {
		_ = json.Unmarshal(b, &idx)
	}
	return idx
}

// registerTags records key under each tag's index. Expired members are pruned
// on every write, and the index lives as long as its longest member.
func (m *Manager) registerTags(ctx context.Context, key string, ttl time.Duration, tags []string) {
	now := m.now()
	exp := int64(0)
	if ttl > 0 {
		exp = now.Add(ttl).UnixNano()
	}
	for _, tag := range tags {
		err := m.store.Update(ctx, PrefixTagIndex+tag, func(cur []byte, _ bool) ([]byte, time.Duration, error) {
			idx := decodeIndex(cur)
			idx[key] = exp

			var longest int64
			for k, e := range idx {
				if e == 0 {
					longest = -1
					continue
				}
				if e <= now.UnixNano() {
					delete(idx, k)
					continue
				}
				if longest >= 0 && e > longest {
					longest = e
				}
			}
			b, err := json.Marshal(idx)
			if err != nil {
				return nil, 0, err
			}
			var indexTTL time.Duration
			if longest > 0 {
				indexTTL = time.Duration(longest - now.UnixNano())
			}
			return b, indexTTL, nil
		})
		if err != nil {
			m.storeError(ctx, "tag", key, err)
		}
	}
}

// InvalidateByTag removes every entry carrying tag and returns how many keys
// were deleted. Without native tags it drains the tag index and deletes the
// exact keys recorded there; entries written while the store was failing
// are not indexed and age out by TTL.
func (m *Manager) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	if m.tags != nil {
		n, err := m.tags.FlushTag(ctx, tag)
		if err == nil {
			metrics.RecordCacheInvalidation("tag")
		}
		return n, err
	}

	var keys []string
	err := m.store.Update(ctx, PrefixTagIndex+tag, func(cur []byte, exists bool) ([]byte, time.Duration, error) {
		if !exists {
			return nil, 0, nil
		}
		for k := range decodeIndex(cur) {
			keys = append(keys, k)
		}
		return []byte("{}"), time.Minute, nil
	})
	if err != nil {
		return 0, err
	}
	if err := m.store.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	metrics.RecordCacheInvalidation("registry")
	m.log.Debug(ctx, "invalidated tag through key registry",
		logger.String("tag", tag),
		logger.Int("keys", len(keys)),
	)
	return len(keys), nil
}

// InvalidateSubject removes every cached entry derived from one subject.
func (m *Manager) InvalidateSubject(ctx context.Context, subjectID string) (int, error) {
	return m.InvalidateByTag(ctx, SubjectTag(subjectID))
}

// InvalidateBenchmarks removes every cached industry benchmark.
func (m *Manager) InvalidateBenchmarks(ctx context.Context) (int, error) {
	return m.InvalidateByTag(ctx, TagBenchmark)
}

// InvalidateAllDiagnostics removes every cached diagnostic result.
func (m *Manager) InvalidateAllDiagnostics(ctx context.Context) (int, error) {
	return m.InvalidateByTag(ctx, TagDiagnostic)
}
