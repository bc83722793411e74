package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/pulse/internal/domain/diagnostic"
	"github.com/okian/pulse/internal/domain/model"
)

var errInvalidWait = errors.New("invalid wait; use seconds or a duration")

// JobDependencies defines the interface for async job reads.
type JobDependencies interface {
	CheckStatus(ctx context.Context, jobID string) (model.QueuedJob, error)
	WaitForResult(ctx context.Context, jobID string, maxWait time.Duration) (diagnostic.AsyncOutcome, error)
}

// JobsHandler handles job status and result requests.
type JobsHandler struct {
	deps    JobDependencies
	maxWait time.Duration
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps JobDependencies, maxWait time.Duration) *JobsHandler {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &JobsHandler{deps: deps, maxWait: maxWait}
}

// HandleGetJob handles GET /jobs/{id}.
func (h *JobsHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_job"
	job, err := h.deps.CheckStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// parseWait reads ?wait= as seconds ("5", "0.5") or a duration ("250ms").
// Missing means a single status check.
func parseWait(v string, limit time.Duration) (time.Duration, error) {
	if v == "" {
		return time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || secs < 0 {
			return 0, errInvalidWait
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, errInvalidWait
	}
	return max(time.Millisecond, min(d, limit)), nil
}

// HandleGetResult handles GET /jobs/{id}/result?wait=5. A finished job
// returns its result; one still running returns 202 with its status record.
func (h *JobsHandler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_job_result"
	wait, err := parseWait(r.URL.Query().Get("wait"), h.maxWait)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.WaitForResult(r.Context(), r.PathValue("id"), wait)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	switch {
	case !out.Ready:
		writeJSON(w, http.StatusAccepted, out.Job)
	case out.Job.Status == model.JobFailed:
		writeJSON(w, http.StatusConflict, out.Job)
	default:
		writeJSON(w, http.StatusOK, out.Result)
	}
}
