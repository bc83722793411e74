// Package runner runs independent scoring callbacks with per-callback
// failure isolation, bounded deadlines, and chunked batch processing.
package runner

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Task is one named callback with the score substituted when it fails.
type Task struct {
	Name     string
	Run      func(ctx context.Context) (float64, error)
	Fallback float64
}

// Report is the outcome of RunParallel. Results holds one entry per task,
// with fallbacks in place of failures; Errors holds only the failures.
type Report struct {
	Results       map[string]model.AlgorithmResult
	Errors        map[string]model.ErrorInfo
	ElapsedByName map[string]float64
	TotalElapsed  time.Duration
	// Order is the scheduling order, cheapest first.
	Order []string
}

// Stats is a snapshot of runner counters.
type Stats struct {
	Runs           int64   `json:"runs"`
	Tasks          int64   `json:"tasks"`
	Failures       int64   `json:"failures"`
	Timeouts       int64   `json:"timeouts"`
	BatchItems     int64   `json:"batch_items"`
	BatchFailures  int64   `json:"batch_failures"`
	MaxConcurrency int     `json:"max_concurrency"`
	AvgRunMS       float64 `json:"avg_run_ms"`
}

// Runner is safe for concurrent use.
type Runner struct {
	maxConcurrency int
	taskTimeout    time.Duration
	priority       map[string]int
	batchSize      int
	batchDelay     time.Duration
	log            logger.Logger

	runs, tasks, failures, timeouts atomic.Int64
	batchItems, batchFailures       atomic.Int64
	runNanos                        atomic.Int64
}

// New builds a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		maxConcurrency: runtime.NumCPU() * 4,
		priority:       map[string]int{},
		batchSize:      10,
		batchDelay:     100 * time.Millisecond,
		log:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BatchSize returns the default chunk size.
func (r *Runner) BatchSize() int { return r.batchSize }

// order sorts tasks cheapest first by the priority table.
func (r *Runner) order(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := r.priority[out[i].Name]
		pj, jok := r.priority[out[j].Name]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out
}

// RunParallel runs every task concurrently, bounded by max concurrency.
// A failing, panicking, or timed-out task never aborts the others.
func (r *Runner) RunParallel(ctx context.Context, tasks []Task) Report {
	start := time.Now()
	ordered := r.order(tasks)
	results := make([]model.AlgorithmResult, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrency)
	for i, task := range ordered {
		g.Go(func() error {
			results[i] = r.runTask(gctx, task)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{
		Results:       make(map[string]model.AlgorithmResult, len(ordered)),
		Errors:        map[string]model.ErrorInfo{},
		ElapsedByName: make(map[string]float64, len(ordered)),
		Order:         make([]string, len(ordered)),
		TotalElapsed:  time.Since(start),
	}
	for i, res := range results {
		rep.Order[i] = res.Name
		rep.Results[res.Name] = res
		rep.ElapsedByName[res.Name] = res.ElapsedMS
		if res.Error != nil {
			rep.Errors[res.Name] = *res.Error
		}
	}

	r.runs.Add(1)
	r.tasks.Add(int64(len(ordered)))
	r.runNanos.Add(int64(rep.TotalElapsed))
	return rep
}

func (r *Runner) runTask(ctx context.Context, task Task) model.AlgorithmResult {
	start := time.Now()
	var score float64
	var err error
	if r.taskTimeout > 0 {
		score, err = RunWithTimeout(ctx, r.taskTimeout, func(ctx context.Context) (float64, error) {
			return safeRun(ctx, task.Run)
		})
	} else {
		score, err = safeRun(ctx, task.Run)
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	metrics.RecordAlgorithmLatency(task.Name, elapsed)

	res := model.AlgorithmResult{Name: task.Name, Score: score, ElapsedMS: elapsed}
	if err == nil {
		return res
	}

	code := model.CodeAlgorithmFailed
	switch {
	case errors.Is(err, ErrTimeout):
		code = model.CodeTimeout
		r.timeouts.Add(1)
		metrics.RecordAlgorithmTimeout()
	case errors.Is(err, ErrPanic):
		code = model.CodeAlgorithmPanic
	}
	r.failures.Add(1)
	metrics.RecordAlgorithmError(task.Name)
	r.log.Warn(ctx, "algorithm failed, using fallback",
		logger.String("algorithm", task.Name),
		logger.String("code", code),
		logger.Float64("fallback", task.Fallback),
		logger.Error(err),
	)
	res.Score = task.Fallback
	res.Error = &model.ErrorInfo{Code: code, Message: err.Error()}
	return res
}

// safeRun turns a panic into an error.
func safeRun[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()
	return fn(ctx)
}

type outcome[T any] struct {
	v   T
	err error
}

// RunWithTimeout gives fn a hard deadline. On expiry the caller gets an error
// wrapping ErrTimeout. fn is not interrupted: it runs under a context detached
// from cancellation and its result is discarded when it finally returns.
func RunWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan outcome[T], 1)
	go func() {
		v, err := safeRun(context.WithoutCancel(ctx), fn)
		done <- outcome[T]{v: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case o := <-done:
		return o.v, o.err
	case <-timer.C:
		return zero, &TimeoutError{After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TimeoutError reports how long the caller waited.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string { return "computation timed out after " + e.After.String() }

// Unwrap lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Stats returns a snapshot of runner counters.
func (r *Runner) Stats() Stats {
	s := Stats{
		Runs:           r.runs.Load(),
		Tasks:          r.tasks.Load(),
		Failures:       r.failures.Load(),
		Timeouts:       r.timeouts.Load(),
		BatchItems:     r.batchItems.Load(),
		BatchFailures:  r.batchFailures.Load(),
		MaxConcurrency: r.maxConcurrency,
	}
	if s.Runs > 0 {
		s.AvgRunMS = float64(r.runNanos.Load()) / float64(s.Runs) / float64(time.Millisecond)
	}
	return s
}
