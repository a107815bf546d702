package evaluation

import (
	"math"

	"github.com/ent0n29/screener/internal/records"
)

// DefaultPassingThreshold is the inclusive pass mark used when none is given.
const DefaultPassingThreshold = 70

const (
	weightCommunication = 0.3
	weightReasoning     = 0.3
	weightRelevance     = 0.4
)

// WeightedPercent combines the three criteria (communication 30%, reasoning
// 30%, relevance 40%) scored on 0..maxScore into a rounded percentage.
func WeightedPercent(s records.Scores, maxScore float64) int {
	if maxScore <= 0 {
		return 0
	}
	weighted := float64(s.Communication)*weightCommunication +
		float64(s.Reasoning)*weightReasoning +
		float64(s.Relevance)*weightRelevance
	return int(math.Round(weighted / maxScore * 100))
}

// CalculateOverallScore converts 1..5 rubric scores into a percentage.
func CalculateOverallScore(s records.Scores) int {
	return WeightedPercent(s, 5)
}

// IsPassingScore reports whether score meets threshold (inclusive). A
// non-positive threshold selects DefaultPassingThreshold.
func IsPassingScore(score, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultPassingThreshold
	}
	return score >= threshold
}

// Reconcile clamps model output to 0..100, fills a missing overall score from
// the weighted criteria and recomputes the pass flag against threshold.
func Reconcile(e records.Evaluation, threshold int) records.Evaluation {
	e.Scores.Communication = clampPercent(e.Scores.Communication)
	e.Scores.Reasoning = clampPercent(e.Scores.Reasoning)
	e.Scores.Relevance = clampPercent(e.Scores.Relevance)
	if e.OverallScore <= 0 || e.OverallScore > 100 {
		e.OverallScore = WeightedPercent(e.Scores, 100)
	}
	e.IsPassing = IsPassingScore(e.OverallScore, threshold)
	return e
}

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
