// Package diagnostic composes the limiter, cache, runner, and algorithm
// registry into one weighted health diagnosis per subject.
package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/cache"
	"github.com/okian/pulse/internal/domain/jobs"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/ratelimit"
	"github.com/okian/pulse/internal/domain/runner"
	"github.com/okian/pulse/internal/domain/scoring"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

const defaultBatchKey = "batch"

// SubjectSource supplies subjects and their scoring data in one read each.
type SubjectSource interface {
	Get(ctx context.Context, id string) (model.Subject, error)
	LoadData(ctx context.Context, subject model.Subject) (model.Data, error)
}

// AlgorithmResponse is the answer of RunSingle.
type AlgorithmResponse struct {
	SubjectID string                `json:"subject_id"`
	Result    model.AlgorithmResult `json:"result"`
	FromCache bool                  `json:"from_cache"`
}

// BatchResult is the answer of BatchDiagnose.
type BatchResult struct {
	Results        map[string]model.DiagnosticResult `json:"results"`
	Errors         map[string]model.ErrorInfo        `json:"errors"`
	Chunks         int                               `json:"chunks"`
	TotalElapsedMS float64                           `json:"total_elapsed_ms"`
}

// Stats aggregates performance counters of every layer.
type Stats struct {
	Requests          int64        `json:"requests"`
	CacheHits         int64        `json:"cache_hits"`
	Computed          int64        `json:"computed"`
	RateLimited       int64        `json:"rate_limited"`
	CalculationErrors int64        `json:"calculation_errors"`
	Algorithms        []string     `json:"algorithms"`
	Runner            runner.Stats `json:"runner"`
	Cache             cache.Stats  `json:"cache"`
	Jobs              *jobs.Stats  `json:"jobs,omitempty"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	subjects   SubjectSource
	benchmarks BenchmarkSource
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	runner     *runner.Runner
	registry   *scoring.Registry
	jobs       *jobs.Orchestrator
	tiers      Tiers
	batchKey   string
	now        func() time.Time
	log        logger.Logger

	requests, cacheHits, computed atomic.Int64
	rateLimited, calcErrors       atomic.Int64
}

// New builds an Orchestrator.
func New(subjects SubjectSource, limiter *ratelimit.Limiter, cm *cache.Manager, r *runner.Runner, registry *scoring.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		subjects: subjects,
		limiter:  limiter,
		cache:    cm,
		runner:   r,
		registry: registry,
		tiers:    DefaultTiers,
		batchKey: defaultBatchKey,
		now:      time.Now,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Diagnose returns the diagnostic of one subject. A rejected call returns a
// *RateLimitError; a failed computation returns a result carrying a
// CALCULATION_ERROR together with an error wrapping ErrCalculation.
func (o *Orchestrator) Diagnose(ctx context.Context, subjectID string, forceRefresh bool) (model.DiagnosticResult, error) {
	if err := o.limiter.ForSubject(subjectID).Admit(ctx, ratelimit.ClassDiagnostic); err != nil {
		o.rateLimited.Add(1)
		return model.DiagnosticResult{}, fromLimit(err)
	}
	return o.diagnose(ctx, subjectID, forceRefresh)
}

// AdmitClient applies the global class to one calling client. It guards
// every entry point, so it returns a *RateLimitError like Diagnose.
func (o *Orchestrator) AdmitClient(ctx context.Context, client string) error {
	return fromLimit(o.limiter.Admit(ctx, ratelimit.ClientKey(client), ratelimit.ClassGlobal))
}

// diagnose is Diagnose without admission control.
func (o *Orchestrator) diagnose(ctx context.Context, subjectID string, forceRefresh bool) (model.DiagnosticResult, error) {
	start := time.Now()
	o.requests.Add(1)

	subject, err := o.subject(ctx, subjectID)
	if err != nil {
		return model.DiagnosticResult{}, err
	}

	scope := cache.NewScope()
	defer scope.Clear()

	entry := o.cache.DiagnosticEntry(subject)
	if forceRefresh {
		if err := o.cache.Forget(ctx, scope, entry.Key); err != nil {
			o.log.Warn(ctx, "failed to drop cached diagnostic", logger.String("key", entry.Key), logger.Error(err))
		}
	}

	res, tier, err := cache.RememberJSON(ctx, o.cache, scope, entry.Key, entry.TTL, entry.Tags, true,
		func(ctx context.Context) (model.DiagnosticResult, error) {
			return o.compute(ctx, scope, subject)
		})
	if err != nil {
		o.calcErrors.Add(1)
		o.log.Error(ctx, "diagnostic calculation failed", logger.String("subject_id", subjectID), logger.Error(err))
		return calculationError(subject, err), fmt.Errorf("%w: %w", ErrCalculation, err)
	}

	res.FromCache = tier.Cached()
	if res.FromCache {
		o.cacheHits.Add(1)
	} else {
		o.computed.Add(1)
	}
	metrics.RecordDiagnostic(res.FromCache, float64(time.Since(start).Microseconds())/1000, res.OverallScore)
	return res, nil
}

func (o *Orchestrator) subject(ctx context.Context, id string) (model.Subject, error) {
	s, err := o.subjects.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Subject{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	return s, err
}

func calculationError(subject model.Subject, err error) model.DiagnosticResult {
	return model.DiagnosticResult{
		SubjectID:  subject.ID,
		StatusTier: model.TierWeak,
		SubResults: map[string]model.AlgorithmResult{},
		Meta:       model.DiagnosticMeta{Fingerprint: subject.Fingerprint()},
		Error:      &model.ErrorInfo{Code: model.CodeCalculationError, Message: err.Error()},
	}
}

// tasks binds every registered algorithm to one subject state.
func (o *Orchestrator) tasks(subject model.Subject, data model.Data, algos []scoring.Algorithm) []runner.Task {
	tasks := make([]runner.Task, 0, len(algos))
	for _, a := range algos {
		tasks = append(tasks, runner.Task{
			Name:     a.Name(),
			Fallback: a.Fallback(),
			Run: func(ctx context.Context) (float64, error) {
				return a.Score(ctx, subject, data)
			},
		})
	}
	return tasks
}

// compute loads the subject data once and runs every algorithm over it.
func (o *Orchestrator) compute(ctx context.Context, scope *cache.Scope, subject model.Subject) (model.DiagnosticResult, error) {
	start := time.Now()
	data, err := o.loadData(ctx, scope, subject)
	if err != nil {
		return model.DiagnosticResult{}, err
	}

	rep := o.runner.RunParallel(ctx, o.tasks(subject, data, o.registry.All()))
	// Fallbacks substituted for a cancelled run describe the caller, not the subject.
	if err := ctx.Err(); err != nil {
		return model.DiagnosticResult{}, err
	}
	overall := Aggregate(rep.Results, o.registry.Weights())

	return model.DiagnosticResult{
		SubjectID:    subject.ID,
		OverallScore: overall,
		StatusTier:   o.tiers.Classify(overall),
		SubResults:   rep.Results,
		ComputedAt:   o.now().UTC(),
		Meta: model.DiagnosticMeta{
			CalculationTimeMS: float64(time.Since(start).Microseconds()) / 1000,
			ElapsedByName:     rep.ElapsedByName,
			Order:             rep.Order,
			Fingerprint:       subject.Fingerprint(),
		},
	}, nil
}

// RunSingle runs one algorithm for a subject, cached per subject state and
// limited by the algorithm class.
func (o *Orchestrator) RunSingle(ctx context.Context, name, subjectID string) (AlgorithmResponse, error) {
	if err := o.limiter.ForSubject(subjectID).Admit(ctx, ratelimit.ClassAlgorithm); err != nil {
		o.rateLimited.Add(1)
		return AlgorithmResponse{}, fromLimit(err)
	}
	algo, err := o.registry.Get(name)
	if err != nil {
		return AlgorithmResponse{}, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, name)
	}
	subject, err := o.subject(ctx, subjectID)
	if err != nil {
		return AlgorithmResponse{}, err
	}

	scope := cache.NewScope()
	defer scope.Clear()
	entry := o.cache.AlgorithmEntry(name, subject)
	res, tier, err := cache.RememberJSON(ctx, o.cache, scope, entry.Key, entry.TTL, entry.Tags, true,
		func(ctx context.Context) (model.AlgorithmResult, error) {
			data, err := o.loadData(ctx, scope, subject)
			if err != nil {
				return model.AlgorithmResult{}, err
			}
			rep := o.runner.RunParallel(ctx, o.tasks(subject, data, []scoring.Algorithm{algo}))
			if err := ctx.Err(); err != nil {
				return model.AlgorithmResult{}, err
			}
			return rep.Results[name], nil
		})
	if err != nil {
		return AlgorithmResponse{}, fmt.Errorf("%w: %w", ErrCalculation, err)
	}
	return AlgorithmResponse{SubjectID: subjectID, Result: res, FromCache: tier.Cached()}, nil
}

// BatchDiagnose diagnoses many subjects in paced chunks. The whole batch
// counts once against the batch class.
func (o *Orchestrator) BatchDiagnose(ctx context.Context, subjectIDs []string) (BatchResult, error) {
	if err := o.limiter.Admit(ctx, o.batchKey, ratelimit.ClassBatch); err != nil {
		o.rateLimited.Add(1)
		return BatchResult{}, fromLimit(err)
	}

	rep := runner.BatchProcess(ctx, o.runner, subjectIDs, o.runner.BatchSize(),
		func(ctx context.Context, id string) (model.DiagnosticResult, error) {
			return o.diagnose(ctx, id, false)
		})

	out := BatchResult{
		Results:        make(map[string]model.DiagnosticResult, len(subjectIDs)),
		Errors:         map[string]model.ErrorInfo{},
		Chunks:         rep.Chunks,
		TotalElapsedMS: float64(rep.TotalElapsed.Microseconds()) / 1000,
	}
	for _, it := range rep.Items {
		if it.Err != nil {
			out.Errors[it.Item] = model.ErrorInfo{Code: model.CodeCalculationError, Message: it.Err.Error()}
			continue
		}
		out.Results[it.Item] = it.Value
	}
	return out, nil
}

// Invalidate drops every cached entry of a subject.
func (o *Orchestrator) Invalidate(ctx context.Context, subjectID string) (int, error) {
	return o.cache.InvalidateSubject(ctx, subjectID)
}

// InvalidateAll drops every cached diagnostic.
func (o *Orchestrator) InvalidateAll(ctx context.Context) (int, error) {
	return o.cache.InvalidateAllDiagnostics(ctx)
}

// Warm invalidates a subject and precomputes its diagnostic.
func (o *Orchestrator) Warm(ctx context.Context, subjectID string) error {
	subject, err := o.subject(ctx, subjectID)
	if err != nil {
		return err
	}
	scope := cache.NewScope()
	defer scope.Clear()
	return o.cache.Warm(ctx, subject, func(ctx context.Context) ([]byte, error) {
		res, err := o.compute(ctx, scope, subject)
		if err != nil {
			return nil, err
		}
		return marshal(res)
	})
}

// Stats returns a snapshot of every layer's counters.
func (o *Orchestrator) Stats() Stats {
	s := Stats{
		Requests:          o.requests.Load(),
		CacheHits:         o.cacheHits.Load(),
		Computed:          o.computed.Load(),
		RateLimited:       o.rateLimited.Load(),
		CalculationErrors: o.calcErrors.Load(),
		Algorithms:        o.registry.Names(),
		Runner:            o.runner.Stats(),
		Cache:             o.cache.Stats(),
	}
	if o.jobs != nil {
		js := o.jobs.Stats()
		s.Jobs = &js
	}
	return s
}
