// Package model contains domain models passed between layers.
package model

import (
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Subject is the entity being diagnosed. Only the mutable fields that influence
// scoring are carried here; everything else stays with the host domain.
type Subject struct {
	ID        string           `json:"id"`
	UpdatedAt time.Time        `json:"updated_at"`
	Counts    map[string]int64 `json:"counts,omitempty"` // related-record counts, e.g. leads, offers
}

// StateFingerprint is a short hash of a Subject's mutation-relevant fields.
type StateFingerprint string

// Fingerprint derives the StateFingerprint deterministically from UpdatedAt and Counts.
// Count keys are hashed in sorted order so map iteration never changes the result,
// each prefixed by its length so no key can imitate a separator.
func (s Subject) Fingerprint() StateFingerprint {
	d := xxhash.New()
	_, _ = d.WriteString("updated_at=")
	_, _ = d.WriteString(strconv.FormatInt(s.UpdatedAt.UTC().UnixNano(), 10))

	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString(";")
		_, _ = d.WriteString(strconv.Itoa(len(k)))
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(strconv.FormatInt(s.Counts[k], 10))
	}

	return StateFingerprint(strconv.FormatUint(d.Sum64(), 16))
}

// Data is the lightweight read-only input every algorithm receives.
// It is fetched once per computation.
type Data struct {
	Metrics map[string]float64 `json:"metrics"`
	// Industry selects the benchmark the subject is compared against.
	Industry string `json:"industry,omitempty"`
	// Benchmark holds the industry reference values, attached on load.
	Benchmark map[string]float64 `json:"benchmark,omitempty"`
}

// Metric returns the named metric and whether it was present.
func (d Data) Metric(name string) (float64, bool) {
	v, ok := d.Metrics[name]
	return v, ok
}

// Baseline returns the industry reference value of a metric.
func (d Data) Baseline(name string) (float64, bool) {
	v, ok := d.Benchmark[name]
	return v, ok
}
