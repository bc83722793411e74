package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/pulse/internal/domain/diagnostic"
	"github.com/okian/pulse/internal/domain/model"
)

// maxBatchSubjects bounds one batch request.
const maxBatchSubjects = 1000

// DiagnoseDependencies defines the interface for diagnostic operations.
type DiagnoseDependencies interface {
	Diagnose(ctx context.Context, subjectID string, forceRefresh bool) (model.DiagnosticResult, error)
	RunAsync(ctx context.Context, subjectID string, priority model.Priority, forceRefresh bool) (string, error)
	QueueBatch(ctx context.Context, subjectIDs []string, priority model.Priority) (map[string]string, error)
	BatchDiagnose(ctx context.Context, subjectIDs []string) (diagnostic.BatchResult, error)
	RunSingle(ctx context.Context, name, subjectID string) (diagnostic.AlgorithmResponse, error)
}

// DiagnoseHandler handles diagnostic requests.
type DiagnoseHandler struct {
	deps DiagnoseDependencies
}

// NewDiagnoseHandler creates a new diagnose handler.
func NewDiagnoseHandler(deps DiagnoseDependencies) *DiagnoseHandler {
	return &DiagnoseHandler{deps: deps}
}

type jobResponse struct {
	JobID string `json:"job_id"`
}

// batchRequest mirrors the OpenAPI schema for POST /diagnose/batch.
type batchRequest struct {
	SubjectIDs []string `json:"subject_ids"`
	Priority   string   `json:"priority"`
	// Sync runs the batch inline and returns results instead of job ids.
	Sync bool `json:"sync"`
}

func (b batchRequest) validate() error {
	switch {
	case len(b.SubjectIDs) == 0:
		return errors.New("missing subject_ids")
	case len(b.SubjectIDs) > maxBatchSubjects:
		return errors.New("too many subject_ids; max " + strconv.Itoa(maxBatchSubjects))
	}
	for _, id := range b.SubjectIDs {
		if id == "" {
			return errors.New("empty subject id")
		}
	}
	return nil
}

type batchJobsResponse struct {
	Jobs map[string]string `json:"jobs"`
}

func forceRefresh(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("force_refresh"))
	return v
}

func priority(v string) model.Priority {
	if v == "" {
		return model.PriorityDefault
	}
	return model.Priority(v)
}

// HandleDiagnose handles POST /diagnose/{id}?force_refresh=true.
func (h *DiagnoseHandler) HandleDiagnose(w http.ResponseWriter, r *http.Request) {
	const op = "api.diagnose"
	res, err := h.deps.Diagnose(r.Context(), r.PathValue("id"), forceRefresh(r))
	if errors.Is(err, diagnostic.ErrCalculation) {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAsync handles POST /diagnose/{id}/async?priority=high.
func (h *DiagnoseHandler) HandleAsync(w http.ResponseWriter, r *http.Request) {
	const op = "api.diagnose_async"
	jobID, err := h.deps.RunAsync(r.Context(), r.PathValue("id"), priority(r.URL.Query().Get("priority")), forceRefresh(r))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID})
}

// HandleBatch handles POST /diagnose/batch. Queued by default; {"sync": true}
// diagnoses inline in paced chunks.
func (h *DiagnoseHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.diagnose_batch"
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if req.Sync {
		res, err := h.deps.BatchDiagnose(r.Context(), req.SubjectIDs)
		if err != nil {
			writeFailure(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	ids, err := h.deps.QueueBatch(r.Context(), req.SubjectIDs, priority(req.Priority))
	if err != nil && len(ids) == 0 {
		writeFailure(w, op, err)
		return
	}
	// Partial success still returns the jobs that were queued.
	writeJSON(w, http.StatusAccepted, batchJobsResponse{Jobs: ids})
}

// HandleAlgorithm handles GET /algorithms/{name}/{id}.
func (h *DiagnoseHandler) HandleAlgorithm(w http.ResponseWriter, r *http.Request) {
	const op = "api.algorithm"
	res, err := h.deps.RunSingle(r.Context(), r.PathValue("name"), r.PathValue("id"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
