// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/pulse/internal/domain/diagnostic"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SubjectDependencies
	DiagnoseDependencies
	JobDependencies
	CacheDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	subjectsHandler *SubjectsHandler
	diagnoseHandler *DiagnoseHandler
	jobsHandler     *JobsHandler
	cacheHandler    *CacheHandler
}

// NewServer creates a new API server with all handlers. maxWait caps the
// ?wait= parameter of the job result endpoint.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxWait time.Duration) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		subjectsHandler: NewSubjectsHandler(deps),
		diagnoseHandler: NewDiagnoseHandler(deps),
		jobsHandler:     NewJobsHandler(deps, maxWait),
		cacheHandler:    NewCacheHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("PUT /subjects/{id}", MetricsMiddleware(s.subjectsHandler.HandlePutSubject, "subjects"))
	mux.HandleFunc("GET /subjects/{id}/limits", MetricsMiddleware(s.subjectsHandler.HandleGetLimits, "limits"))
	mux.HandleFunc("PUT /benchmarks/{industry}", MetricsMiddleware(s.subjectsHandler.HandlePutBenchmark, "benchmarks"))

	mux.HandleFunc("POST /diagnose/batch", MetricsMiddleware(s.diagnoseHandler.HandleBatch, "diagnose_batch"))
	mux.HandleFunc("POST /diagnose/{id}", MetricsMiddleware(s.diagnoseHandler.HandleDiagnose, "diagnose"))
	mux.HandleFunc("POST /diagnose/{id}/async", MetricsMiddleware(s.diagnoseHandler.HandleAsync, "diagnose_async"))
	mux.HandleFunc("GET /algorithms/{name}/{id}", MetricsMiddleware(s.diagnoseHandler.HandleAlgorithm, "algorithm"))

	mux.HandleFunc("GET /jobs/{id}", MetricsMiddleware(s.jobsHandler.HandleGetJob, "jobs"))
	mux.HandleFunc("GET /jobs/{id}/result", MetricsMiddleware(s.jobsHandler.HandleGetResult, "job_result"))

	mux.HandleFunc("DELETE /cache/benchmarks", MetricsMiddleware(s.cacheHandler.HandleInvalidateBenchmarks, "cache_benchmarks"))
	mux.HandleFunc("DELETE /cache/{id}", MetricsMiddleware(s.cacheHandler.HandleInvalidate, "cache_invalidate"))
	mux.HandleFunc("POST /cache/{id}/warm", MetricsMiddleware(s.cacheHandler.HandleWarm, "cache_warm"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rateLimitResponse is the 429 body.
type rateLimitResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Class      string `json:"class"`
	RetryAfter int    `json:"retry_after"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure classifies err and writes it. Rate-limit rejections carry the
// retry hint in the body and in Retry-After.
func writeFailure(w http.ResponseWriter, op string, err error) {
	var rl *diagnostic.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Code:       "rate_limited",
			Message:    rl.Error(),
			Class:      rl.Class,
			RetryAfter: rl.RetryAfterSeconds,
		})
		return
	}
	status, code := classify(err)
	writeError(w, status, code, Wrap(op, err))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
