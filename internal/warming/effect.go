package warming

import "github.com/awscache/awscache/internal/metrics"

// Effectiveness weights for the three components of the score.
const (
	weightHitRate      = 0.4
	weightResponseTime = 0.3
	weightSuccessRate  = 0.3
)

// CycleReport summarizes one warming cycle for callers and logs.
type CycleReport struct {
	Planned       int     `json:"planned"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Skipped       bool    `json:"skipped"`
	Effectiveness float64 `json:"effectiveness"`
}

// Effectiveness scores a warming cycle from the metrics snapshots taken
// around it and the cycle's job success rate. Each term is clamped to
// [0,1] before weighting, so a regression in one dimension zeroes that
// term instead of dragging the score negative.
func Effectiveness(before, after metrics.Snapshot, successRate float64) float64 {
	hitImprovement := clamp01(after.HitRate - before.HitRate)

	var latencyImprovement float64
	if before.AvgResponseTime > 0 {
		latencyImprovement = clamp01(
			float64(before.AvgResponseTime-after.AvgResponseTime) / float64(before.AvgResponseTime))
	}

	return weightHitRate*hitImprovement +
		weightResponseTime*latencyImprovement +
		weightSuccessRate*clamp01(successRate)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
