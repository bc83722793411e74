package model

import "time"

// StatusTier classifies an overall score.
type StatusTier string

const (
	TierExcellent StatusTier = "excellent"
	TierGood      StatusTier = "good"
	TierAverage   StatusTier = "average"
	TierWeak      StatusTier = "weak"
)

// ErrorInfo describes a failed algorithm or computation.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorInfo.
const (
	CodeAlgorithmFailed  = "ALGORITHM_FAILED"
	CodeAlgorithmPanic   = "ALGORITHM_PANIC"
	CodeTimeout          = "TIMEOUT"
	CodeCalculationError = "CALCULATION_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
)

// AlgorithmResult is one algorithm's contribution. Never mutated after creation.
type AlgorithmResult struct {
	Name      string     `json:"name"`
	Score     float64    `json:"score"`
	ElapsedMS float64    `json:"elapsed_ms"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// Failed reports whether the result is a fallback substituted for an error.
func (r AlgorithmResult) Failed() bool { return r.Error != nil }

// DiagnosticMeta carries timing metadata for a computation.
type DiagnosticMeta struct {
	CalculationTimeMS float64            `json:"calculation_time_ms"`
	ElapsedByName     map[string]float64 `json:"elapsed_by_name"`
	Order             []string           `json:"order"`
	Fingerprint       StateFingerprint   `json:"fingerprint"`
}

// DiagnosticResult is the aggregated, immutable answer for one subject state.
type DiagnosticResult struct {
	SubjectID    string                     `json:"subject_id"`
	OverallScore int                        `json:"overall_score"`
	StatusTier   StatusTier                 `json:"status_tier"`
	SubResults   map[string]AlgorithmResult `json:"sub_results"`
	ComputedAt   time.Time                  `json:"computed_at"`
	FromCache    bool                       `json:"from_cache"`
	Meta         DiagnosticMeta             `json:"meta"`
	// Error is set only on a CALCULATION_ERROR response.
	Error *ErrorInfo `json:"error,omitempty"`
}
