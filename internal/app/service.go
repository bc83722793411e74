// Package service wires the diagnostic core into a runnable service and
// implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/adapters/mq/worker"
	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/cache"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/diagnostic"
	"github.com/okian/pulse/internal/domain/jobs"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/ratelimit"
	"github.com/okian/pulse/internal/domain/runner"
	"github.com/okian/pulse/internal/domain/scoring"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// ErrNotStarted is returned by every operation before Start succeeds.
var ErrNotStarted = errors.New("service not started")

// Service owns the store, the diagnostic core and the async worker pool.
type Service struct {
	mu sync.RWMutex

	cfg        *config.Config
	log        logger.Logger
	store      repository.Store
	ownStore   bool
	extraAlgos []scoring.Algorithm

	subjects *repository.SubjectRepository
	limiter  *ratelimit.Limiter
	cache    *cache.Manager
	runner   *runner.Runner
	registry *scoring.Registry
	queue    *queue.PriorityQueue
	jobs     *jobs.Orchestrator
	diag     *diagnostic.Orchestrator
	pool     *worker.Pool

	started   bool
	startedAt time.Time
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStore injects a store instead of opening the configured backend.
// The service does not close an injected store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithAlgorithms registers algorithms in addition to the configured ones.
func WithAlgorithms(algos ...scoring.Algorithm) Option {
	return func(s *Service) {
		s.extraAlgos = append(s.extraAlgos, algos...)
	}
}

// New constructs a Service with default configuration. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds every component and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.log == nil {
		s.log = logger.Get()
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.log.Info(ctx, "starting diagnostic service...")

	if s.store == nil {
		store, err := openStore(s.cfg.Store, s.log)
		if err != nil {
			return err
		}
		s.store, s.ownStore = store, true
	}
	s.log.Info(ctx, "using store", logger.String("backend", s.store.Capabilities().Backend))

	registry, err := scoring.FromConfig(s.cfg.Algorithms)
	if err != nil {
		_ = s.closeStore()
		return fmt.Errorf("build algorithm registry: %w", err)
	}
	for _, a := range s.extraAlgos {
		if err := registry.Register(a); err != nil {
			_ = s.closeStore()
			return fmt.Errorf("register algorithm %s: %w", a.Name(), err)
		}
	}
	s.registry = registry

	s.subjects = repository.NewSubjectRepository(s.store)
	s.limiter = ratelimit.New(s.store, limiterClasses(s.cfg.RateLimits),
		ratelimit.WithLogger(s.log.Named("ratelimit")),
	)
	cc := s.cfg.Cache
	s.cache = cache.New(s.store,
		cache.WithTTLs(cache.TTLs{
			Diagnostic: cc.DiagnosticTTL,
			Algorithm:  cc.AlgorithmTTL,
			Metrics:    cc.MetricsTTL,
			Benchmark:  cc.BenchmarkTTL,
		}),
		cache.WithSlowThreshold(cc.SlowThreshold),
		cache.WithLock(cc.LockTimeout, cc.LockPollInterval),
		cache.WithLogger(s.log.Named("cache")),
	)
	rc := s.cfg.Runner
	s.runner = runner.New(
		runner.WithMaxConcurrency(rc.MaxConcurrency),
		runner.WithTaskTimeout(rc.AlgorithmTimeout),
		runner.WithPriority(rc.Priority),
		runner.WithBatch(rc.BatchSize, rc.BatchDelay),
		runner.WithLogger(s.log.Named("runner")),
	)

	qc := s.cfg.Queue
	s.queue = queue.NewPriorityQueue(
		queue.WithCapacity(qc.Capacity),
		queue.WithPriorities(qc.Priorities...),
	)
	s.jobs = jobs.New(s.store, s.queue,
		jobs.WithStatusTTL(qc.StatusTTL),
		jobs.WithPolling(qc.PollInterval, qc.MaxWait),
		jobs.WithInflight(dedupe.NewInMemoryIndex(dedupe.WithMaxSize(qc.InflightSize))),
		jobs.WithLogger(s.log.Named("jobs")),
	)
	s.diag = diagnostic.New(s.subjects, s.limiter, s.cache, s.runner, s.registry,
		diagnostic.WithJobs(s.jobs),
		diagnostic.WithBenchmarks(s.subjects),
		diagnostic.WithTiers(diagnostic.Tiers{
			Excellent: s.cfg.Tiers.Excellent,
			Good:      s.cfg.Tiers.Good,
			Average:   s.cfg.Tiers.Average,
		}),
		diagnostic.WithLogger(s.log.Named("diagnostic")),
	)

	s.pool = worker.NewPool(qc.WorkerCount, s.queue, s.diag, worker.WithLogger(s.log.Named("worker")))
	s.pool.Start(ctx)
	metrics.UpdateWorkerCount(s.pool.Size())

	s.started = true
	s.startedAt = time.Now()
	s.log.Info(ctx, "diagnostic service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("algorithms", s.registry.Len()),
		logger.Int("queueCapacity", qc.Capacity),
	)
	return nil
}

func openStore(sc config.StoreConfig, log logger.Logger) (repository.Store, error) {
	switch sc.Backend {
	case config.BackendBadger:
		store, err := repository.OpenBadger(repository.BadgerConfig{
			Path:       sc.Path,
			InMemory:   sc.InMemory,
			GCInterval: sc.GCInterval,
			Logger:     log.Named("badger"),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return store, nil
	default:
		return repository.NewMemoryStore(
			repository.WithShards(sc.Shards),
			repository.WithJanitorInterval(sc.GCInterval),
		), nil
	}
}

func limiterClasses(cfgs map[string]config.RateLimitConfig) map[string]ratelimit.Class {
	classes := make(map[string]ratelimit.Class, len(cfgs))
	for name, c := range cfgs {
		classes[name] = ratelimit.Class{Requests: c.Requests, Window: c.Window()}
	}
	return classes
}

// Stop drains the worker pool and closes the store. Jobs still queued when
// ctx ends are abandoned in the pending state and expire with their TTL.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.log.Info(ctx, "stopping diagnostic service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown workers: %w", err))
	}
	if err := s.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	metrics.UpdateWorkerCount(0)

	s.started = false
	s.log.Info(ctx, "diagnostic service stopped")
	return errors.Join(errs...)
}

func (s *Service) closeStore() error {
	if !s.ownStore || s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store, s.ownStore = nil, false
	return err
}

// core returns the diagnostic orchestrator once started.
func (s *Service) core() (*diagnostic.Orchestrator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.diag, nil
}

// PutSubject stores a subject's counts and data on behalf of the host application.
func (s *Service) PutSubject(ctx context.Context, id string, counts map[string]int64, data model.Data) (model.Subject, error) {
	s.mu.RLock()
	subjects, started := s.subjects, s.started
	s.mu.RUnlock()
	if !started {
		return model.Subject{}, ErrNotStarted
	}
	return subjects.Put(ctx, id, counts, data)
}

// PutBenchmark stores an industry's reference values and drops every
// cached result scored against the previous ones.
func (s *Service) PutBenchmark(ctx context.Context, industry string, values map[string]float64) (int, error) {
	s.mu.RLock()
	subjects, d, started := s.subjects, s.diag, s.started
	s.mu.RUnlock()
	if !started {
		return 0, ErrNotStarted
	}
	if err := subjects.PutBenchmark(ctx, industry, values); err != nil {
		return 0, err
	}
	return d.BenchmarksChanged(ctx)
}

// Diagnose runs or serves the cached full diagnostic for a subject.
func (s *Service) Diagnose(ctx context.Context, subjectID string, forceRefresh bool) (model.DiagnosticResult, error) {
	d, err := s.core()
	if err != nil {
		return model.DiagnosticResult{}, err
	}
	return d.Diagnose(ctx, subjectID, forceRefresh)
}

// RunAsync queues a diagnostic job and returns its id.
func (s *Service) RunAsync(ctx context.Context, subjectID string, priority model.Priority, forceRefresh bool) (string, error) {
	d, err := s.core()
	if err != nil {
		return "", err
	}
	return d.RunAsync(ctx, subjectID, priority, forceRefresh)
}

// QueueBatch queues one job per subject.
func (s *Service) QueueBatch(ctx context.Context, subjectIDs []string, priority model.Priority) (map[string]string, error) {
	d, err := s.core()
	if err != nil {
		return nil, err
	}
	return d.QueueBatch(ctx, subjectIDs, priority)
}

// BatchDiagnose diagnoses subjects synchronously in paced chunks.
func (s *Service) BatchDiagnose(ctx context.Context, subjectIDs []string) (diagnostic.BatchResult, error) {
	d, err := s.core()
	if err != nil {
		return diagnostic.BatchResult{}, err
	}
	return d.BatchDiagnose(ctx, subjectIDs)
}

// CheckStatus returns the job status record.
func (s *Service) CheckStatus(ctx context.Context, jobID string) (model.QueuedJob, error) {
	d, err := s.core()
	if err != nil {
		return model.QueuedJob{}, err
	}
	return d.CheckStatus(ctx, jobID)
}

// WaitForResult polls a job for at most maxWait.
func (s *Service) WaitForResult(ctx context.Context, jobID string, maxWait time.Duration) (diagnostic.AsyncOutcome, error) {
	d, err := s.core()
	if err != nil {
		return diagnostic.AsyncOutcome{}, err
	}
	return d.WaitForResult(ctx, jobID, maxWait, 0)
}

// RunSingle runs or serves one algorithm for a subject.
func (s *Service) RunSingle(ctx context.Context, name, subjectID string) (diagnostic.AlgorithmResponse, error) {
	d, err := s.core()
	if err != nil {
		return diagnostic.AlgorithmResponse{}, err
	}
	return d.RunSingle(ctx, name, subjectID)
}

// Invalidate drops every cached entry of a subject.
func (s *Service) Invalidate(ctx context.Context, subjectID string) (int, error) {
	d, err := s.core()
	if err != nil {
		return 0, err
	}
	return d.Invalidate(ctx, subjectID)
}

// InvalidateBenchmarks drops every cached industry benchmark.
func (s *Service) InvalidateBenchmarks(ctx context.Context) (int, error) {
	d, err := s.core()
	if err != nil {
		return 0, err
	}
	return d.InvalidateBenchmarks(ctx)
}

// Warm recomputes and caches a subject's diagnostic.
func (s *Service) Warm(ctx context.Context, subjectID string) error {
	d, err := s.core()
	if err != nil {
		return err
	}
	return d.Warm(ctx, subjectID)
}

// AdmitClient rate limits one HTTP client under the global class.
func (s *Service) AdmitClient(ctx context.Context, client string) error {
	d, err := s.core()
	if err != nil {
		return err
	}
	return d.AdmitClient(ctx, client)
}

// Limits returns the limiter view of a subject for the given class.
func (s *Service) Limits(ctx context.Context, subjectID, class string) (ratelimit.Stats, error) {
	s.mu.RLock()
	limiter, started := s.limiter, s.started
	s.mu.RUnlock()
	if !started {
		return ratelimit.Stats{}, ErrNotStarted
	}
	return limiter.ForSubject(subjectID).Stats(ctx, class), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started": s.started,
	}
	if !s.started {
		return stats
	}

	ps := s.pool.Stats()
	depths := s.queue.Depths()
	for p, n := range depths {
		metrics.UpdateQueueDepth(p, n)
	}
	metrics.UpdateWorkerCount(ps.Workers)

	stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
	stats["backend"] = s.store.Capabilities().Backend
	stats["workers"] = ps
	stats["queueDepths"] = depths
	stats["diagnostic"] = s.diag.Stats()
	return stats
}
