package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/ratelimit"
)

// SubjectDependencies defines the interface for subject writes and limiter views.
type SubjectDependencies interface {
	PutSubject(ctx context.Context, id string, counts map[string]int64, data model.Data) (model.Subject, error)
	PutBenchmark(ctx context.Context, industry string, values map[string]float64) (int, error)
	Limits(ctx context.Context, subjectID, class string) (ratelimit.Stats, error)
}

// SubjectsHandler handles subject requests.
type SubjectsHandler struct {
	deps SubjectDependencies
}

// NewSubjectsHandler creates a new subjects handler.
func NewSubjectsHandler(deps SubjectDependencies) *SubjectsHandler {
	return &SubjectsHandler{deps: deps}
}

// subjectRequest mirrors the OpenAPI schema for PUT /subjects/{id}.
type subjectRequest struct {
	Counts   map[string]int64   `json:"counts"`
	Metrics  map[string]float64 `json:"metrics"`
	Industry string             `json:"industry"`
}

// HandlePutSubject handles PUT /subjects/{id}. Every write bumps updated_at,
// so cached diagnostics of the previous state are no longer served.
func (h *SubjectsHandler) HandlePutSubject(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_subject"
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	var req subjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	subject, err := h.deps.PutSubject(r.Context(), id, req.Counts, model.Data{Metrics: req.Metrics, Industry: req.Industry})
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

// HandleGetLimits handles GET /subjects/{id}/limits?class=diagnostic.
func (h *SubjectsHandler) HandleGetLimits(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_limits"
	class := r.URL.Query().Get("class")
	if class == "" {
		class = ratelimit.ClassDiagnostic
	}
	stats, err := h.deps.Limits(r.Context(), r.PathValue("id"), class)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

var errNoValues = errors.New("missing benchmark values")

type benchmarkRequest struct {
	Values map[string]float64 `json:"values"`
}

type benchmarkResponse struct {
	Industry    string `json:"industry"`
	Invalidated int    `json:"invalidated"`
}

// HandlePutBenchmark handles PUT /benchmarks/{industry}. Results scored against
// the previous values are dropped.
func (h *SubjectsHandler) HandlePutBenchmark(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_benchmark"
	industry := strings.TrimSpace(r.PathValue("industry"))
	if industry == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	var req benchmarkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errNoValues))
		return
	}
	n, err := h.deps.PutBenchmark(r.Context(), industry, req.Values)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, benchmarkResponse{Industry: industry, Invalidated: n})
}
