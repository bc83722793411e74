package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/cache"
	"github.com/okian/pulse/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func newMemory() *repository.MemoryStore {
	return repository.NewMemoryStore(repository.WithJanitorInterval(0))
}

func constant(v string, calls *atomic.Int32) cache.ComputeFunc {
	return func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(v), nil
	}
}

func TestRememberTiers(t *testing.T) {
	Convey("Given a cache manager over a memory store", t, func() {
		ctx := context.Background()
		store := newMemory()
		Reset(func() { _ = store.Close() })
		m := cache.New(store)
		var calls atomic.Int32

		Convey("When a key is remembered three times across two scopes", func() {
			first := cache.NewScope()
			v1, t1, err1 := m.Remember(ctx, first, "diag:1:a", time.Minute, nil, constant("x", &calls))
			v2, t2, _ := m.Remember(ctx, first, "diag:1:a", time.Minute, nil, constant("y", &calls))
			second := cache.NewScope()
			v3, t3, _ := m.Remember(ctx, second, "diag:1:a", time.Minute, nil, constant("z", &calls))

			Convey("Then it is computed once and served from scope then shared", func() {
				So(err1, ShouldBeNil)
				So(calls.Load(), ShouldEqual, 1)
				So([]cache.Tier{t1, t2, t3}, ShouldResemble, []cache.Tier{cache.TierComputed, cache.TierScope, cache.TierShared})
				So(string(v1), ShouldEqual, "x")
				So(string(v2), ShouldEqual, "x")
				So(string(v3), ShouldEqual, "x")
				So(t3.Cached(), ShouldBeTrue)
			})

			Convey("Then stats count hits and misses", func() {
				st := m.Stats()
				So(st.Misses, ShouldEqual, 1)
				So(st.ScopeHits, ShouldEqual, 1)
				So(st.SharedHits, ShouldEqual, 1)
				So(st.Backend, ShouldEqual, "memory")
				So(st.NativeTags, ShouldBeTrue)
			})

			Convey("Then clearing the scope reports its size", func() {
				So(first.Clear(), ShouldEqual, 1)
				So(first.Len(), ShouldEqual, 0)
			})
		})

		Convey("When compute fails", func() {
			boom := errors.New("boom")
			_, _, err := m.Remember(ctx, nil, "k", time.Minute, nil, func(context.Context) ([]byte, error) { return nil, boom })

			Convey("Then the error is returned and nothing is cached", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				_, err := store.Get(ctx, "k")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When compute is slower than the threshold", func() {
			slow := cache.New(store, cache.WithSlowThreshold(5*time.Millisecond))
			_, _, err := slow.Remember(ctx, nil, "k", time.Minute, nil, func(context.Context) ([]byte, error) {
				time.Sleep(20 * time.Millisecond)
				return []byte("v"), nil
			})

			Convey("Then the slow computation is counted", func() {
				So(err, ShouldBeNil)
				So(slow.Stats().SlowComputes, ShouldEqual, 1)
			})
		})
	})
}

func TestRememberFailOpen(t *testing.T) {
	Convey("Given a manager whose store is down", t, func() {
		ctx := context.Background()
		faulty := repository.NewFaultyStore(newMemory())
		Reset(func() { _ = faulty.Close() })
		m := cache.New(faulty)
		faulty.Trip()
		var calls atomic.Int32

		Convey("When remembering twice without a scope", func() {
			v, tier, err := m.Remember(ctx, nil, "k", time.Minute, []string{"t"}, constant("v", &calls))
			_, _, err2 := m.RememberLocked(ctx, nil, "k", time.Minute, []string{"t"}, constant("v", &calls))

			Convey("Then both compute fresh without surfacing store errors", func() {
				So(err, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(string(v), ShouldEqual, "v")
				So(tier, ShouldEqual, cache.TierComputed)
				So(calls.Load(), ShouldEqual, 2)
				So(m.Stats().StoreErrors, ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestInvalidation(t *testing.T) {
	stores := map[string]func() repository.Store{
		"native tags": func() repository.Store { return newMemory() },
		"key registry": func() repository.Store {
			s, err := repository.OpenBadger(repository.BadgerConfig{InMemory: true})
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			return s
		},
	}
	for name, open := range stores {
		open := open
		Convey("Given a manager using "+name, t, func() {
			ctx := context.Background()
			store := open()
			Reset(func() { _ = store.Close() })
			m := cache.New(store)
			var calls atomic.Int32
			s1 := model.Subject{ID: "b-1", UpdatedAt: time.Unix(100, 0)}
			s2 := model.Subject{ID: "b-2", UpdatedAt: time.Unix(100, 0)}

			_, _, _ = m.Diagnostic(ctx, nil, s1, constant("d1", &calls))
			_, _, _ = m.Algorithm(ctx, nil, "health_score", s1, constant("a1", &calls))
			_, _, _ = m.Diagnostic(ctx, nil, s2, constant("d2", &calls))
			So(calls.Load(), ShouldEqual, 3)

			Convey("When one subject is invalidated", func() {
				n, err := m.InvalidateSubject(ctx, "b-1")

				Convey("Then only its entries are removed", func() {
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 2)
					_, err := store.Get(ctx, cache.DiagnosticKey("b-1", s1.Fingerprint()))
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					_, err = store.Get(ctx, cache.DiagnosticKey("b-2", s2.Fingerprint()))
					So(err, ShouldBeNil)
				})
			})

			Convey("When all diagnostics are invalidated", func() {
				n, err := m.InvalidateAllDiagnostics(ctx)

				Convey("Then algorithm entries survive", func() {
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 2)
					_, err := store.Get(ctx, cache.AlgorithmKey("health_score", "b-1", s1.Fingerprint()))
					So(err, ShouldBeNil)
				})
			})

			Convey("When a subject's state changes", func() {
				changed := s1
				changed.UpdatedAt = time.Unix(200, 0)
				_, tier, err := m.Diagnostic(ctx, nil, changed, constant("d1b", &calls))
				_, again, _ := m.Diagnostic(ctx, nil, s1, constant("never", &calls))

				Convey("Then the new fingerprint misses and the old one still hits", func() {
					So(err, ShouldBeNil)
					So(tier, ShouldEqual, cache.TierComputed)
					So(again, ShouldEqual, cache.TierShared)
					So(calls.Load(), ShouldEqual, 4)
				})
			})

			Convey("When metrics and an industry benchmark are cached", func() {
				_, t1, err := m.Metrics(ctx, nil, "b-1", "data", constant("m1", &calls))
				So(err, ShouldBeNil)
				_, t2, _ := m.Metrics(ctx, nil, "b-1", "data", constant("never", &calls))
				_, _, err = m.Benchmark(ctx, nil, "saas", constant("bench", &calls))
				So(err, ShouldBeNil)
				So([]cache.Tier{t1, t2}, ShouldResemble, []cache.Tier{cache.TierComputed, cache.TierShared})

				Convey("Then subject invalidation takes the metrics but not the benchmark", func() {
					n, err := m.InvalidateSubject(ctx, "b-1")
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 3)
					_, err = store.Get(ctx, cache.MetricsKey("b-1", "data"))
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					_, err = store.Get(ctx, cache.BenchmarkKey("saas"))
					So(err, ShouldBeNil)
				})

				Convey("Then benchmark invalidation takes only the benchmark", func() {
					n, err := m.InvalidateBenchmarks(ctx)
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 1)
					_, err = store.Get(ctx, cache.BenchmarkKey("saas"))
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					_, err = store.Get(ctx, cache.MetricsKey("b-1", "data"))
					So(err, ShouldBeNil)
				})
			})

			Convey("When a subject is warmed", func() {
				So(m.Warm(ctx, s1, constant("fresh", &calls)), ShouldBeNil)

				Convey("Then it was recomputed", func() {
					So(calls.Load(), ShouldEqual, 4)
					b, err := store.Get(ctx, cache.DiagnosticKey("b-1", s1.Fingerprint()))
					So(err, ShouldBeNil)
					So(string(b), ShouldEqual, "fresh")
				})
			})
		})
	}
}

func TestAtomicLock(t *testing.T) {
	Convey("Given two managers sharing one store", t, func() {
		ctx := context.Background()
		store := newMemory()
		Reset(func() { _ = store.Close() })
		a := cache.New(store, cache.WithLock(2*time.Second, 10*time.Millisecond))
		b := cache.New(store, cache.WithLock(2*time.Second, 10*time.Millisecond))

		var calls atomic.Int32
		slow := func(context.Context) ([]byte, error) {
			calls.Add(1)
			time.Sleep(150 * time.Millisecond)
			return []byte("result"), nil
		}

		Convey("When both race on the same missing key", func() {
			var wg sync.WaitGroup
			tiers := make([]cache.Tier, 2)
			values := make([][]byte, 2)
			for i, m := range []*cache.Manager{a, b} {
				wg.Add(1)
				go func(i int, m *cache.Manager) {
					defer wg.Done()
					values[i], tiers[i], _ = m.RememberLocked(ctx, nil, "diag:1:a", time.Minute, nil, slow)
				}(i, m)
			}
			wg.Wait()

			Convey("Then the expensive callback runs at most twice and both get the value", func() {
				So(calls.Load(), ShouldBeLessThanOrEqualTo, 2)
				So(string(values[0]), ShouldEqual, "result")
				So(string(values[1]), ShouldEqual, "result")
			})

			Convey("Then the lock is released", func() {
				_, err := store.Get(ctx, cache.LockKey("diag:1:a"))
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When many goroutines in one process race", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = a.AtomicLock(ctx, "k", time.Second, func(ctx context.Context) ([]byte, error) {
						v, err := slow(ctx)
						_ = store.Set(ctx, "k", v, time.Minute)
						return v, err
					})
				}()
			}
			wg.Wait()

			Convey("Then the flight is shared", func() {
				So(calls.Load(), ShouldBeLessThanOrEqualTo, 2)
			})
		})

		Convey("When a stale lock is held elsewhere", func() {
			So(store.Set(ctx, cache.LockKey("k2"), []byte("other"), time.Minute), ShouldBeNil)
			start := time.Now()
			v, err := a.AtomicLock(ctx, "k2", 100*time.Millisecond, slow)

			Convey("Then the caller computes after the timeout instead of deadlocking", func() {
				So(err, ShouldBeNil)
				So(string(v), ShouldEqual, "result")
				So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 100*time.Millisecond)
				So(time.Since(start), ShouldBeLessThan, time.Second)
				So(a.Stats().LockTimeouts, ShouldEqual, 1)
			})
		})

		Convey("When the holder writes while another waits", func() {
			So(store.Set(ctx, cache.LockKey("k3"), []byte("other"), time.Minute), ShouldBeNil)
			go func() {
				time.Sleep(50 * time.Millisecond)
				_ = store.Set(ctx, "k3", []byte("from-holder"), time.Minute)
			}()
			v, err := b.AtomicLock(ctx, "k3", time.Second, slow)

			Convey("Then the waiter receives the holder's value without computing", func() {
				So(err, ShouldBeNil)
				So(string(v), ShouldEqual, "from-holder")
				So(calls.Load(), ShouldEqual, 0)
				So(b.Stats().LockWaits, ShouldEqual, 1)
			})
		})
	})
}

type payload struct {
	Score int `json:"score"`
}

func TestRememberJSON(t *testing.T) {
	Convey("Given a manager", t, func() {
		ctx := context.Background()
		store := newMemory()
		Reset(func() { _ = store.Close() })
		m := cache.New(store)
		calls := 0
		compute := func(context.Context) (payload, error) {
			calls++
			return payload{Score: 72}, nil
		}

		Convey("When a typed value is remembered twice", func() {
			v1, t1, err := cache.RememberJSON(ctx, m, nil, "metrics:1:sales", time.Minute, nil, false, compute)
			v2, t2, _ := cache.RememberJSON(ctx, m, nil, "metrics:1:sales", time.Minute, nil, true, compute)

			Convey("Then the second decodes from the shared tier", func() {
				So(err, ShouldBeNil)
				So(v1, ShouldResemble, payload{Score: 72})
				So(v2, ShouldResemble, v1)
				So(t1, ShouldEqual, cache.TierComputed)
				So(t2, ShouldEqual, cache.TierShared)
				So(calls, ShouldEqual, 1)
			})
		})

		Convey("When the cached bytes are corrupt", func() {
			So(store.Set(ctx, "metrics:1:sales", []byte("{not json"), time.Minute), ShouldBeNil)
			v, tier, err := cache.RememberJSON(ctx, m, nil, "metrics:1:sales", time.Minute, nil, false, compute)

			Convey("Then the value is recomputed", func() {
				So(err, ShouldBeNil)
				So(v.Score, ShouldEqual, 72)
				So(tier, ShouldEqual, cache.TierComputed)
				So(calls, ShouldEqual, 1)
			})
		})
	})
}

func TestKeys(t *testing.T) {
	Convey("Given key helpers", t, func() {
		So(cache.DiagnosticKey("7", "abc"), ShouldEqual, "diag:7:abc")
		So(cache.AlgorithmKey("health_score", "7", "abc"), ShouldEqual, "algo:health_score:7:abc")
		So(cache.MetricsKey("7", "sales"), ShouldEqual, "metrics:7:sales")
		So(cache.BenchmarkKey("retail"), ShouldEqual, "bench:retail")
		So(cache.LockKey("diag:7:abc"), ShouldEqual, "lock:diag:7:abc")
		So(cache.SubjectTag("7"), ShouldEqual, "subject:7")
	})
}

func TestRememberLockedCallerGivesUp(t *testing.T) {
	Convey("Given a slow compute behind the lock", t, func() {
		store := newMemory()
		Reset(func() { _ = store.Close() })
		m := cache.New(store, cache.WithLock(time.Second, 5*time.Millisecond))
		var calls atomic.Int32
		slow := func(ctx context.Context) ([]byte, error) {
			calls.Add(1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(60 * time.Millisecond):
			}
			return []byte("done"), nil
		}

		Convey("When the caller's context ends first", func() {
			short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			_, _, err := m.RememberLocked(short, cache.NewScope(), "k", time.Minute, nil, slow)

			Convey("Then the caller gets its own context error", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})

			Convey("Then the detached compute still completes and is cached once", func() {
				So(waitFor(func() bool {
					v, err := store.Get(context.Background(), "k")
					return err == nil && string(v) == "done"
				}), ShouldBeTrue)
				v, tier, err := m.RememberLocked(context.Background(), cache.NewScope(), "k", time.Minute, nil, slow)
				So(err, ShouldBeNil)
				So(string(v), ShouldEqual, "done")
				So(tier, ShouldEqual, cache.TierShared)
				So(calls.Load(), ShouldEqual, 1)
			})
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
