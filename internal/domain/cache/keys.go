package cache

import "github.com/okian/pulse/internal/domain/model"

// Key prefixes. Each category owns a distinct prefix so several subsystems
// can share one physical store.
const (
	PrefixDiagnostic = "diag:"
	PrefixAlgorithm  = "algo:"
	PrefixMetrics    = "metrics:"
	PrefixBenchmark  = "bench:"
	PrefixLock       = "lock:"
	PrefixTagIndex   = "cache_tags:"
)

// Tags.
const (
	TagDiagnostic = "diagnostic"
	TagAlgorithm  = "algorithm"
	TagMetrics    = "metrics"
	TagBenchmark  = "benchmark"
)

// SubjectTag groups every entry derived from one subject.
func SubjectTag(subjectID string) string { return "subject:" + subjectID }

// DiagnosticKey is diag:{subject}:{fingerprint}.
func DiagnosticKey(subjectID string, fp model.StateFingerprint) string {
	return PrefixDiagnostic + subjectID + ":" + string(fp)
}

// AlgorithmKey is algo:{name}:{subject}:{fingerprint}.
func AlgorithmKey(name, subjectID string, fp model.StateFingerprint) string {
	return PrefixAlgorithm + name + ":" + subjectID + ":" + string(fp)
}

// MetricsKey is metrics:{subject}:{type}.
func MetricsKey(subjectID, typ string) string {
	return PrefixMetrics + subjectID + ":" + typ
}

// BenchmarkKey is bench:{industry}.
func BenchmarkKey(industry string) string {
	return PrefixBenchmark + industry
}

// LockKey is the stampede lock guarding key.
func LockKey(key string) string { return PrefixLock + key }
