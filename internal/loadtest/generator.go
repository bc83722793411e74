package loadtest

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const randomFloatDivisor = 1000000

// Subject is the payload written to PUT /subjects/{id}.
type Subject struct {
	ID      string             `json:"-"`
	Counts  map[string]int64   `json:"counts"`
	Metrics map[string]float64 `json:"metrics"`
}

// metricRanges lists the metrics the reference algorithms read, with the
// range each is drawn from.
var metricRanges = map[string][2]float64{
	"health":          {20, 100},
	"dream_buyer":     {10, 100},
	"offer":           {30, 100},
	"conversion_rate": {0.5, 10},
	"engagement":      {0, 100},
	"content":         {0, 100},
	"money_loss":      {0, 60},
	"churn":           {0, 80},
	"revenue_growth":  {0, 100},
	"benchmark":       {20, 90},
}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

func randomInt(n int64) int64 {
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

// generateSubjects creates n subjects with unique ids and varied metrics.
func generateSubjects(n int) []Subject {
	out := make([]Subject, n)
	for i := range out {
		out[i] = Subject{
			ID:      "subject_" + uuid.NewString(),
			Counts:  map[string]int64{"leads": randomInt(500), "offers": randomInt(20)},
			Metrics: randomMetrics(),
		}
	}
	return out
}

func randomMetrics() map[string]float64 {
	m := make(map[string]float64, len(metricRanges))
	for name, r := range metricRanges {
		m[name] = r[0] + getRandomFloat()*(r[1]-r[0])
	}
	return m
}

// mutate bumps a count so the subject's state fingerprint changes.
func (s *Subject) mutate() {
	s.Counts["leads"]++
}
