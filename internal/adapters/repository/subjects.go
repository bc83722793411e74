package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// Prefixes of the host-owned records in the shared store.
const (
	SubjectPrefix   = "subject:"
	BenchmarkPrefix = "benchmark:"
)

type subjectRecord struct {
	Subject model.Subject `json:"subject"`
	Data    model.Data    `json:"data"`
}

// SubjectRepository persists subjects with the data their algorithms read.
// The host application owns this state; the diagnostic core only reads it.
type SubjectRepository struct {
	store Store
	now   func() time.Time
}

// NewSubjectRepository builds a repository over store.
func NewSubjectRepository(store Store) *SubjectRepository {
	return &SubjectRepository{store: store, now: time.Now}
}

func subjectKey(id string) string { return SubjectPrefix + id }

// Put stores the subject counts and metrics, bumping UpdatedAt.
func (r *SubjectRepository) Put(ctx context.Context, id string, counts map[string]int64, data model.Data) (model.Subject, error) {
	if id == "" {
		return model.Subject{}, ErrInvalidKey
	}
	data.Benchmark = nil
	rec := subjectRecord{
		Subject: model.Subject{ID: id, UpdatedAt: r.now().UTC(), Counts: counts},
		Data:    data,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return model.Subject{}, fmt.Errorf("encode subject %s: %w", id, err)
	}
	if err := r.store.Set(ctx, subjectKey(id), b, 0); err != nil {
		return model.Subject{}, err
	}
	return rec.Subject, nil
}

func (r *SubjectRepository) load(ctx context.Context, id string) (subjectRecord, error) {
	var rec subjectRecord
	b, err := r.store.Get(ctx, subjectKey(id))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("decode subject %s: %w", id, err)
	}
	return rec, nil
}

// Get returns the subject. ErrNotFound when unknown.
func (r *SubjectRepository) Get(ctx context.Context, id string) (model.Subject, error) {
	rec, err := r.load(ctx, id)
	return rec.Subject, err
}

// LoadData returns the algorithm input in one read. Unknown subjects yield empty data.
func (r *SubjectRepository) LoadData(ctx context.Context, subject model.Subject) (model.Data, error) {
	rec, err := r.load(ctx, subject.ID)
	if errors.Is(err, ErrNotFound) {
		return model.Data{Metrics: map[string]float64{}}, nil
	}
	if err != nil {
		return model.Data{}, err
	}
	if rec.Data.Metrics == nil {
		rec.Data.Metrics = map[string]float64{}
	}
	return rec.Data, nil
}

// List returns the ids of all stored subjects.
func (r *SubjectRepository) List(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx, SubjectPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k[len(SubjectPrefix):]
	}
	return ids, nil
}

// PutBenchmark stores the reference metric values of one industry.
func (r *SubjectRepository) PutBenchmark(ctx context.Context, industry string, values map[string]float64) error {
	if industry == "" {
		return ErrInvalidKey
	}
	b, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode benchmark %s: %w", industry, err)
	}
	return r.store.Set(ctx, BenchmarkPrefix+industry, b, 0)
}

// Benchmark returns the reference values of an industry. ErrNotFound when unknown.
func (r *SubjectRepository) Benchmark(ctx context.Context, industry string) (map[string]float64, error) {
	b, err := r.store.Get(ctx, BenchmarkPrefix+industry)
	if err != nil {
		return nil, err
	}
	var values map[string]float64
	if err := json.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("decode benchmark %s: %w", industry, err)
	}
	return values, nil
}
