package diagnostic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/domain/jobs"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/ratelimit"
)

// AsyncOutcome is what WaitForResult observed. Ready is false while the job
// is still pending or processing.
type AsyncOutcome struct {
	Job    model.QueuedJob         `json:"job"`
	Result *model.DiagnosticResult `json:"result,omitempty"`
	Ready  bool                    `json:"ready"`
}

func marshal(res model.DiagnosticResult) ([]byte, error) { //nolint:gocritic // hugeParam
	return json.Marshal(res)
}

// RunAsync admits the call and submits a diagnostic job. Submissions for an
// unchanged subject state share the job already in flight.
func (o *Orchestrator) RunAsync(ctx context.Context, subjectID string, priority model.Priority, forceRefresh bool) (string, error) {
	if o.jobs == nil {
		return "", ErrAsyncDisabled
	}
	if err := o.limiter.ForSubject(subjectID).Admit(ctx, ratelimit.ClassDiagnostic); err != nil {
		o.rateLimited.Add(1)
		return "", fromLimit(err)
	}
	subject, err := o.subject(ctx, subjectID)
	if err != nil {
		return "", err
	}

	opts := []jobs.SubmitOption{jobs.WithFingerprint(string(subject.Fingerprint()))}
	if forceRefresh {
		opts = append(opts, jobs.WithForceRefresh())
	}
	return o.jobs.Submit(ctx, subjectID, priority, opts...)
}

// QueueBatch submits one job per subject without waiting.
func (o *Orchestrator) QueueBatch(ctx context.Context, subjectIDs []string, priority model.Priority) (map[string]string, error) {
	if o.jobs == nil {
		return nil, ErrAsyncDisabled
	}
	if err := o.limiter.Admit(ctx, o.batchKey, ratelimit.ClassBatch); err != nil {
		o.rateLimited.Add(1)
		return nil, fromLimit(err)
	}
	return o.jobs.QueueBatch(ctx, subjectIDs, priority)
}

// Process is the worker side: it runs the diagnostic of a queued job and
// records the outcome on the job.
func (o *Orchestrator) Process(ctx context.Context, m queue.Message) error { //nolint:gocritic // hugeParam
	if o.jobs == nil {
		return ErrAsyncDisabled
	}
	return o.jobs.Process(ctx, m, func(ctx context.Context, m queue.Message) ([]byte, error) {
		res, err := o.diagnose(ctx, m.SubjectID, m.ForceRefresh)
		if err != nil {
			return nil, err
		}
		return marshal(res)
	})
}

// CheckStatus returns the job status record.
func (o *Orchestrator) CheckStatus(ctx context.Context, jobID string) (model.QueuedJob, error) {
	if o.jobs == nil {
		return model.QueuedJob{}, ErrAsyncDisabled
	}
	return o.jobs.GetStatus(ctx, jobID)
}

// GetAsyncResult returns the diagnostic a completed job produced.
func (o *Orchestrator) GetAsyncResult(ctx context.Context, jobID string) (model.DiagnosticResult, error) {
	if o.jobs == nil {
		return model.DiagnosticResult{}, ErrAsyncDisabled
	}
	b, err := o.jobs.GetResult(ctx, jobID)
	if err != nil {
		return model.DiagnosticResult{}, err
	}
	var res model.DiagnosticResult
	if err := json.Unmarshal(b, &res); err != nil {
		return model.DiagnosticResult{}, fmt.Errorf("decode job result %s: %w", jobID, err)
	}
	return res, nil
}

// WaitForResult polls a job until it finishes or maxWait passes. A wait that
// ends early is not an error; the outcome is simply not Ready.
func (o *Orchestrator) WaitForResult(ctx context.Context, jobID string, maxWait, poll time.Duration) (AsyncOutcome, error) {
	if o.jobs == nil {
		return AsyncOutcome{}, ErrAsyncDisabled
	}
	out, err := o.jobs.WaitForResult(ctx, jobID, maxWait, poll)
	if err != nil {
		return AsyncOutcome{Job: out.Job}, err
	}
	res := AsyncOutcome{Job: out.Job, Ready: out.Ready}
	if len(out.Result) > 0 {
		var d model.DiagnosticResult
		if err := json.Unmarshal(out.Result, &d); err != nil {
			return res, fmt.Errorf("decode job result %s: %w", jobID, err)
		}
		res.Result = &d
	}
	return res, nil
}
