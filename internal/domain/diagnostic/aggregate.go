package diagnostic

import (
	"math"

	"github.com/okian/pulse/internal/domain/model"
)

// neutralScore is reported when no weighted algorithm succeeded.
const neutralScore = 50

// Tiers are the minimum overall scores of each status tier.
type Tiers struct {
	Excellent int
	Good      int
	Average   int
}

// DefaultTiers is 80 / 60 / 40.
var DefaultTiers = Tiers{Excellent: 80, Good: 60, Average: 40}

// Classify maps an overall score onto a tier.
func (t Tiers) Classify(score int) model.StatusTier {
	switch {
	case score >= t.Excellent:
		return model.TierExcellent
	case score >= t.Good:
		return model.TierGood
	case score >= t.Average:
		return model.TierAverage
	default:
		return model.TierWeak
	}
}

// Aggregate is round(Σ score×weight / Σ weight) over successful results with
// a positive weight. Failed results drop out and the remaining weights are
// renormalized.
func Aggregate(results map[string]model.AlgorithmResult, weights map[string]float64) int {
	var sum, total float64
	for name, w := range weights {
		res, ok := results[name]
		if !ok || w <= 0 || res.Failed() {
			continue
		}
		sum += res.Score * w
		total += w
	}
	if total == 0 {
		return neutralScore
	}
	return int(math.Round(sum / total))
}
