package diagnostic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/cache"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
)

// metricsType names the cached data block of one subject state.
const metricsType = "data"

// BenchmarkSource supplies industry reference values.
type BenchmarkSource interface {
	Benchmark(ctx context.Context, industry string) (map[string]float64, error)
}

// loadData reads the algorithm input of one subject state through the
// metrics cache, then attaches the industry benchmark when one applies.
func (o *Orchestrator) loadData(ctx context.Context, scope *cache.Scope, subject model.Subject) (model.Data, error) {
	b, _, err := o.cache.Metrics(ctx, scope, subject.ID, metricsType+":"+string(subject.Fingerprint()),
		func(ctx context.Context) ([]byte, error) {
			data, err := o.subjects.LoadData(ctx, subject)
			if err != nil {
				return nil, err
			}
			return json.Marshal(data)
		})
	if err != nil {
		return model.Data{}, fmt.Errorf("load data: %w", err)
	}
	var data model.Data
	if err := json.Unmarshal(b, &data); err != nil {
		return model.Data{}, fmt.Errorf("decode data: %w", err)
	}
	if data.Metrics == nil {
		data.Metrics = map[string]float64{}
	}

	if data.Industry != "" && o.benchmarks != nil {
		bench, err := o.benchmark(ctx, scope, data.Industry)
		if err != nil {
			o.log.Warn(ctx, "benchmark unavailable, scoring without it",
				logger.String("industry", data.Industry), logger.Error(err))
		}
		data.Benchmark = bench
	}
	return data, nil
}

// benchmark returns the cached reference values of an industry. An unknown
// industry caches as empty.
func (o *Orchestrator) benchmark(ctx context.Context, scope *cache.Scope, industry string) (map[string]float64, error) {
	b, _, err := o.cache.Benchmark(ctx, scope, industry, func(ctx context.Context) ([]byte, error) {
		values, err := o.benchmarks.Benchmark(ctx, industry)
		if errors.Is(err, repository.ErrNotFound) {
			values, err = map[string]float64{}, nil
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(values)
	})
	if err != nil {
		return nil, err
	}
	var values map[string]float64
	if err := json.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("decode benchmark %s: %w", industry, err)
	}
	return values, nil
}

// BenchmarksChanged drops cached benchmarks together with the diagnostics
// and algorithm results scored against them.
func (o *Orchestrator) BenchmarksChanged(ctx context.Context) (int, error) {
	var total int
	for _, tag := range []string{cache.TagBenchmark, cache.TagDiagnostic, cache.TagAlgorithm} {
		n, err := o.cache.InvalidateByTag(ctx, tag)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// InvalidateBenchmarks drops every cached industry benchmark.
func (o *Orchestrator) InvalidateBenchmarks(ctx context.Context) (int, error) {
	return o.cache.InvalidateBenchmarks(ctx)
}
