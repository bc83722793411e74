package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// AtomicLock runs compute for key at most once across concurrent callers.
// In-process duplicates share one flight; across processes a store lock under
// lock:{key} elects the holder and the rest poll the store for key until
// timeout, then compute redundantly. compute is expected to write key.
func (m *Manager) AtomicLock(ctx context.Context, key string, timeout time.Duration, compute ComputeFunc) ([]byte, error) {
	v, _, err := m.atomicLock(ctx, key, timeout, compute)
	return v, err
}

type flightResult struct {
	value    []byte
	computed bool
}

func (m *Manager) atomicLock(ctx context.Context, key string, timeout time.Duration, compute ComputeFunc) ([]byte, bool, error) {
	if timeout <= 0 {
		timeout = m.lockTimeout
	}
	// The flight is detached from every caller: a caller that gives up stops
	// waiting, but the compute still finishes and writes key.
	flightCtx := context.WithoutCancel(ctx)
	var leader atomic.Bool
	ch := m.flight.DoChan(key, func() (interface{}, error) {
		leader.Store(true)
		v, computed, err := m.lockOrWait(flightCtx, key, timeout, compute)
		return flightResult{value: v, computed: computed}, err
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		isLeader := leader.Load()
		if r.Shared && !isLeader {
			metrics.RecordLockOutcome("shared")
		}
		if r.Err != nil {
			return nil, false, r.Err
		}
		res := r.Val.(flightResult)
		return res.value, isLeader && res.computed, nil
	}
}

func (m *Manager) lockOrWait(ctx context.Context, key string, timeout time.Duration, compute ComputeFunc) ([]byte, bool, error) {
	lockKey := LockKey(key)
	token := []byte(uuid.NewString())

	acquired := false
	err := m.store.Update(ctx, lockKey, func(_ []byte, exists bool) ([]byte, time.Duration, error) {
		if exists {
			return nil, 0, nil
		}
		acquired = true
		return token, timeout, nil
	})
	if err != nil {
		m.storeError(ctx, "lock", lockKey, err)
		v, err := compute(ctx)
		return v, true, err
	}

	if acquired {
		metrics.RecordLockOutcome("acquired")
		defer m.release(lockKey, token)
		// The previous holder may have finished between our lookup and the lock.
		if v, err := m.store.Get(ctx, key); err == nil {
			return v, false, nil
		}
		v, err := compute(ctx)
		return v, true, err
	}

	m.lockWaits.Add(1)
	if v, ok := m.waitFor(ctx, key, lockKey, timeout); ok {
		metrics.RecordLockOutcome("waited")
		return v, false, nil
	}
	m.lockTimeouts.Add(1)
	metrics.RecordLockOutcome("timeout")
	m.log.Warn(ctx, "lock wait ended without a value, computing redundantly",
		logger.String("key", key),
		logger.Duration("timeout", timeout),
	)
	v, err := compute(ctx)
	return v, true, err
}

// waitFor polls the store for key until it appears, the lock disappears
// without a value, the timeout elapses, or ctx ends.
func (m *Manager) waitFor(ctx context.Context, key, lockKey string, timeout time.Duration) ([]byte, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.lockPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-ticker.C:
			if v, err := m.store.Get(ctx, key); err == nil {
				return v, true
			}
			if _, err := m.store.Get(ctx, lockKey); errors.Is(err, repository.ErrNotFound) {
				// Holder gave up without writing. One last look, then stop waiting.
				if v, err := m.store.Get(ctx, key); err == nil {
					return v, true
				}
				return nil, false
			}
		}
	}
}

// release deletes the lock if this caller still owns it.
func (m *Manager) release(lockKey string, token []byte) {
	ctx := context.Background()
	cur, err := m.store.Get(ctx, lockKey)
	if err != nil || string(cur) != string(token) {
		return
	}
	if err := m.store.Delete(ctx, lockKey); err != nil {
		m.storeError(ctx, "unlock", lockKey, err)
	}
}
