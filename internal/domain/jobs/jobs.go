// Package jobs implements the async job state machine on top of the shared
// store and the priority queue.
//
// pending -> processing -> completed | failed. Status records live under
// diagnostic_status:{id} and results under diagnostic_result:{id}, both with a
// bounded TTL so stale jobs expire on their own.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

const (
	StatusPrefix = "diagnostic_status:"
	ResultPrefix = "diagnostic_result:"

	defaultStatusTTL = time.Hour
	defaultPoll      = 500 * time.Millisecond
	defaultMaxWait   = 30 * time.Second
)

// StatusKey is the store key of a job status record.
func StatusKey(jobID string) string { return StatusPrefix + jobID }

// ResultKey is the store key of a job result payload.
func ResultKey(jobID string) string { return ResultPrefix + jobID }

// Enqueuer accepts queued work.
type Enqueuer interface {
	Enqueue(ctx context.Context, m queue.Message) bool
}

// ComputeFunc produces the result payload for a job.
type ComputeFunc func(ctx context.Context, m queue.Message) ([]byte, error)

// Outcome is what WaitForResult observed. Ready is false when the wait ended
// before the job finished; that means "try again later", not failure.
type Outcome struct {
	Job    model.QueuedJob `json:"job"`
	Result json.RawMessage `json:"result,omitempty"`
	Ready  bool            `json:"ready"`
}

// Stats is a snapshot of orchestrator counters.
type Stats struct {
	Submitted int64          `json:"submitted"`
	Coalesced int64          `json:"coalesced"`
	Rejected  int64          `json:"rejected"`
	Completed int64          `json:"completed"`
	Failed    int64          `json:"failed"`
	InFlight  int64          `json:"in_flight"`
	Depths    map[string]int `json:"queue_depths,omitempty"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store     repository.Store
	queue     Enqueuer
	inflight  dedupe.Index
	statusTTL time.Duration
	resultTTL time.Duration
	poll      time.Duration
	maxWait   time.Duration
	now       func() time.Time
	newID     func() string
	log       logger.Logger

	submitted, coalesced, rejected atomic.Int64
	completed, failed              atomic.Int64
}

// New builds an Orchestrator.
func New(store repository.Store, q Enqueuer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		queue:     q,
		statusTTL: defaultStatusTTL,
		poll:      defaultPoll,
		maxWait:   defaultMaxWait,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.resultTTL == 0 {
		o.resultTTL = o.statusTTL
	}
	return o
}

// Submit records a pending job and enqueues it. A submission carrying a
// fingerprint that matches an unfinished job returns that job's id instead.
func (o *Orchestrator) Submit(ctx context.Context, subjectID string, priority model.Priority, opts ...SubmitOption) (string, error) {
	if subjectID == "" {
		return "", ErrInvalidSubject
	}
	if priority == "" {
		priority = model.PriorityDefault
	}
	msg := queue.Message{
		JobID:     o.newID(),
		SubjectID: subjectID,
		Priority:  priority,
	}
	for _, opt := range opts {
		opt(&msg)
	}
	msg.EnqueuedAt = o.now().UTC()

	job := model.QueuedJob{
		JobID:       msg.JobID,
		SubjectID:   subjectID,
		Priority:    priority,
		Status:      model.JobPending,
		SubmittedAt: msg.EnqueuedAt,
	}
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	// The status exists before the in-flight claim so coalesced callers can read it.
	if err := o.store.Set(ctx, StatusKey(job.JobID), b, o.statusTTL); err != nil {
		return "", fmt.Errorf("write job status: %w", err)
	}
	if owner, ok := o.coalesce(ctx, msg); ok {
		if err := o.store.Delete(ctx, StatusKey(job.JobID)); err != nil {
			o.log.Warn(ctx, "failed to drop coalesced job status", logger.String("job_id", job.JobID), logger.Error(err))
		}
		return owner, nil
	}
	metrics.RecordJobTransition(string(model.JobPending))

	if !o.queue.Enqueue(ctx, msg) {
		o.rejected.Add(1)
		o.release(ctx, msg)
		_, _ = o.transition(ctx, job.JobID, model.JobFailed, func(j *model.QueuedJob) {
			j.Error = ErrQueueFull.Error()
		})
		o.log.Warn(ctx, "job rejected", logger.String("job_id", job.JobID), logger.String("subject_id", subjectID))
		return "", ErrQueueFull
	}
	o.submitted.Add(1)
	return job.JobID, nil
}

// coalesce claims the in-flight slot for msg, or returns the live owner.
func (o *Orchestrator) coalesce(ctx context.Context, msg queue.Message) (string, bool) { //nolint:gocritic // hugeParam
	if o.inflight == nil || msg.Fingerprint == "" || msg.ForceRefresh {
		return "", false
	}
	key := dedupe.Key(msg.SubjectID, msg.Fingerprint)
	owner, claimed := o.inflight.Claim(ctx, key, msg.JobID)
	if claimed {
		return "", false
	}
	if job, err := o.GetStatus(ctx, owner); err == nil && !job.Status.Terminal() {
		o.coalesced.Add(1)
		metrics.RecordJobCoalesced()
		return owner, true
	}
	// Owner finished or expired without releasing.
	o.inflight.Release(ctx, key, owner)
	if owner, claimed = o.inflight.Claim(ctx, key, msg.JobID); !claimed {
		o.coalesced.Add(1)
		metrics.RecordJobCoalesced()
		return owner, true
	}
	return "", false
}

func (o *Orchestrator) release(ctx context.Context, msg queue.Message) { //nolint:gocritic // hugeParam
	if o.inflight != nil && msg.Fingerprint != "" {
		o.inflight.Release(ctx, dedupe.Key(msg.SubjectID, msg.Fingerprint), msg.JobID)
	}
}

// QueueBatch submits one job per distinct subject without waiting.
func (o *Orchestrator) QueueBatch(ctx context.Context, subjectIDs []string, priority model.Priority, opts ...SubmitOption) (map[string]string, error) {
	out := make(map[string]string, len(subjectIDs))
	var errs []error
	for _, id := range subjectIDs {
		if _, dup := out[id]; dup {
			continue
		}
		jobID, err := o.Submit(ctx, id, priority, opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		out[id] = jobID
	}
	return out, errors.Join(errs...)
}

// Process runs the worker side of the state machine for one message.
func (o *Orchestrator) Process(ctx context.Context, m queue.Message, compute ComputeFunc) error { //nolint:gocritic // hugeParam
	defer o.release(ctx, m)

	if _, err := o.transition(ctx, m.JobID, model.JobProcessing, func(j *model.QueuedJob) {
		t := o.now().UTC()
		j.StartedAt = &t
	}); err != nil {
		return err
	}

	result, err := safeCompute(ctx, m, compute)
	if err == nil {
		if werr := o.store.Set(ctx, ResultKey(m.JobID), result, o.resultTTL); werr != nil {
			err = fmt.Errorf("write job result: %w", werr)
		}
	}
	if err != nil {
		o.failed.Add(1)
		if _, terr := o.transition(ctx, m.JobID, model.JobFailed, func(j *model.QueuedJob) {
			t := o.now().UTC()
			j.FinishedAt = &t
			j.Error = err.Error()
		}); terr != nil {
			o.log.Error(ctx, "failed to record job failure", logger.String("job_id", m.JobID), logger.Error(terr))
		}
		return err
	}

	if _, err := o.transition(ctx, m.JobID, model.JobCompleted, func(j *model.QueuedJob) {
		t := o.now().UTC()
		j.FinishedAt = &t
		j.ResultRef = ResultKey(m.JobID)
	}); err != nil {
		return err
	}
	o.completed.Add(1)
	return nil
}

func safeCompute(ctx context.Context, m queue.Message, compute ComputeFunc) (b []byte, err error) { //nolint:gocritic // hugeParam
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return compute(ctx, m)
}

// transition moves a job to next atomically. Terminal jobs never change.
func (o *Orchestrator) transition(ctx context.Context, jobID string, next model.JobStatus, mutate func(*model.QueuedJob)) (model.QueuedJob, error) {
	var job model.QueuedJob
	err := o.store.Update(ctx, StatusKey(jobID), func(cur []byte, exists bool) ([]byte, time.Duration, error) {
		if !exists {
			return nil, 0, ErrJobNotFound
		}
		if err := json.Unmarshal(cur, &job); err != nil {
			return nil, 0, fmt.Errorf("decode job %s: %w", jobID, err)
		}
		if job.Status.Terminal() {
			return nil, 0, fmt.Errorf("%w: %s is %s", ErrTerminal, jobID, job.Status)
		}
		if !job.Status.CanTransition(next) {
			return nil, 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
		}
		job.Status = next
		if mutate != nil {
			mutate(&job)
		}
		b, err := json.Marshal(job)
		return b, o.statusTTL, err
	})
	if err != nil {
		return model.QueuedJob{}, err
	}
	metrics.RecordJobTransition(string(next))
	o.log.Debug(ctx, "job transition", logger.String("job_id", jobID), logger.String("status", string(next)))
	return job, nil
}

// GetStatus reads a job status record.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (model.QueuedJob, error) {
	b, err := o.store.Get(ctx, StatusKey(jobID))
	if errors.Is(err, repository.ErrNotFound) {
		return model.QueuedJob{}, ErrJobNotFound
	}
	if err != nil {
		return model.QueuedJob{}, err
	}
	var job model.QueuedJob
	if err := json.Unmarshal(b, &job); err != nil {
		return model.QueuedJob{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, nil
}

// GetResult reads the payload of a completed job.
func (o *Orchestrator) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	job, err := o.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobCompleted:
	case model.JobFailed:
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
	default:
		return nil, ErrResultNotReady
	}
	b, err := o.store.Get(ctx, ResultKey(jobID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return b, err
}

// WaitForResult polls the job status until it finishes or maxWait passes.
// Zero durations use the configured defaults.
func (o *Orchestrator) WaitForResult(ctx context.Context, jobID string, maxWait, poll time.Duration) (Outcome, error) {
	if maxWait <= 0 {
		maxWait = o.maxWait
	}
	if poll <= 0 {
		poll = o.poll
	}
	deadline := time.Now().Add(maxWait)

	for {
		job, err := o.GetStatus(ctx, jobID)
		if err != nil {
			return Outcome{}, err
		}
		if job.Status.Terminal() {
			out := Outcome{Job: job, Ready: true}
			if job.Status == model.JobCompleted {
				if out.Result, err = o.GetResult(ctx, jobID); err != nil {
					return Outcome{Job: job}, err
				}
			}
			return out, nil
		}

		left := time.Until(deadline)
		if left <= 0 {
			return Outcome{Job: job}, nil
		}
		timer := time.NewTimer(min(poll, left))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{Job: job}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Stats returns a snapshot of counters.
func (o *Orchestrator) Stats() Stats {
	s := Stats{
		Submitted: o.submitted.Load(),
		Coalesced: o.coalesced.Load(),
		Rejected:  o.rejected.Load(),
		Completed: o.completed.Load(),
		Failed:    o.failed.Load(),
	}
	if o.inflight != nil {
		s.InFlight = o.inflight.Size()
	}
	if d, ok := o.queue.(interface{ Depths() map[string]int }); ok {
		s.Depths = d.Depths()
	}
	return s
}
