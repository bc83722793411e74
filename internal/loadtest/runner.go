package loadtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/pulse/pkg/logger"
)

type call struct {
	subject int
	seq     int
}

type result struct {
	subject string
	outcome Outcome
	elapsed time.Duration
}

// Run seeds subjects, fires the burst and returns the report.
func Run(ctx context.Context, config *Config) (*Report, error) {
	cfg := config.withDefaults()
	log := cfg.Logger
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting diagnostic burst",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("subjects", cfg.Subjects),
		logger.Int("requestsPerSubject", cfg.Requests),
		logger.Int("workers", cfg.Workers),
		logger.Bool("async", cfg.Async),
		logger.Float64("rate", cfg.Rate),
	)

	if err := client.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	subjects := generateSubjects(cfg.Subjects)
	for i := range subjects {
		if err := client.putSubject(ctx, &subjects[i]); err != nil {
			return nil, fmt.Errorf("seed subjects: %w", err)
		}
	}
	log.Info(ctx, "seeded subjects", logger.Int("count", len(subjects)))

	rep := &Report{
		Subjects:       cfg.Subjects,
		Async:          cfg.Async,
		StartTime:      time.Now(),
		FreshBySubject: make(map[string]int, len(subjects)),
	}
	results := burst(ctx, cfg, client, subjects, rep)
	rep.Duration = time.Since(rep.StartTime)
	summarize(rep, results)

	log.Info(ctx, "burst finished",
		logger.Int("requests", rep.Requests),
		logger.Int("fresh", rep.Fresh),
		logger.Int("cached", rep.Cached),
		logger.Int("rateLimited", rep.RateLimited),
		logger.Int("failed", rep.Failed),
		logger.Int("pending", rep.Pending),
		logger.Float64("cacheHitRate", rep.CacheHitRate()),
		logger.Duration("p50", rep.P50),
		logger.Duration("p99", rep.P99),
		logger.Float64("throughput", rep.Throughput),
	)
	return rep, ctx.Err()
}

// burst runs every call through a fixed worker pool. Mutations are applied
// by the worker that reaches the boundary, under a per-subject lock.
func burst(ctx context.Context, cfg *Config, client *HTTPClient, subjects []Subject, rep *Report) []result {
	total := len(subjects) * cfg.Requests
	calls := make(chan call, cfg.Workers*workerChannelMultiplier)
	out := make(chan result, total)
	locks := make([]sync.Mutex, len(subjects))

	var (
		wg        sync.WaitGroup
		mutations sync.Map
	)
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range calls {
				if ctx.Err() != nil {
					continue
				}
				s := &subjects[c.subject]
				if cfg.MutateEvery > 0 && c.seq > 0 && c.seq%cfg.MutateEvery == 0 {
					locks[c.subject].Lock()
					s.mutate()
					err := client.putSubject(ctx, s)
					locks[c.subject].Unlock()
					if err == nil {
						mutations.Store(c, struct{}{})
					}
				}

				start := time.Now()
				var o Outcome
				if cfg.Async {
					o = client.diagnoseAsync(ctx, s.ID, cfg.Priority, cfg.ResultWait)
				} else {
					o = client.diagnose(ctx, s.ID)
				}
				out <- result{subject: s.ID, outcome: o, elapsed: time.Since(start)}
			}
		}()
	}

	pace := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		pace = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	// Interleave subjects so every one sees concurrent traffic.
	go func() {
		defer close(calls)
		for seq := 0; seq < cfg.Requests; seq++ {
			for i := range subjects {
				if err := pace.Wait(ctx); err != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case calls <- call{subject: i, seq: seq}:
				}
			}
		}
	}()

	wg.Wait()
	close(out)

	mutations.Range(func(_, _ any) bool {
		rep.Mutations++
		return true
	})
	results := make([]result, 0, total)
	for r := range out {
		results = append(results, r)
	}
	return results
}

func summarize(rep *Report, results []result) {
	lat := make([]time.Duration, 0, len(results))
	for _, r := range results {
		rep.Requests++
		switch r.outcome {
		case OutcomeFresh:
			rep.Fresh++
			rep.FreshBySubject[r.subject]++
		case OutcomeCached:
			rep.Cached++
		case OutcomeRateLimited:
			rep.RateLimited++
		case OutcomePending:
			rep.Pending++
		default:
			rep.Failed++
		}
		lat = append(lat, r.elapsed)
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	rep.P50 = percentile(lat, p50)
	rep.P99 = percentile(lat, p99)
	if rep.Duration > 0 {
		rep.Throughput = float64(rep.Requests) / rep.Duration.Seconds()
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q * float64(len(sorted)-1))
	return sorted[i]
}
