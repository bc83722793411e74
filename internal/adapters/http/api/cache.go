package api

import (
	"context"
	"net/http"
)

// CacheDependencies defines the interface for eager cache control.
type CacheDependencies interface {
	Invalidate(ctx context.Context, subjectID string) (int, error)
	Warm(ctx context.Context, subjectID string) error
	InvalidateBenchmarks(ctx context.Context) (int, error)
}

// CacheHandler handles cache requests.
type CacheHandler struct {
	deps CacheDependencies
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(deps CacheDependencies) *CacheHandler {
	return &CacheHandler{deps: deps}
}

type invalidateResponse struct {
	SubjectID string `json:"subject_id"`
	Removed   int    `json:"removed"`
}

// HandleInvalidate handles DELETE /cache/{id}.
func (h *CacheHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	const op = "api.cache_invalidate"
	id := r.PathValue("id")
	n, err := h.deps.Invalidate(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponse{SubjectID: id, Removed: n})
}

// HandleWarm handles POST /cache/{id}/warm.
func (h *CacheHandler) HandleWarm(w http.ResponseWriter, r *http.Request) {
	const op = "api.cache_warm"
	if err := h.deps.Warm(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type removedResponse struct {
	Removed int `json:"removed"`
}

// HandleInvalidateBenchmarks handles DELETE /cache/benchmarks.
func (h *CacheHandler) HandleInvalidateBenchmarks(w http.ResponseWriter, r *http.Request) {
	const op = "api.cache_invalidate_benchmarks"
	n, err := h.deps.InvalidateBenchmarks(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, removedResponse{Removed: n})
}
