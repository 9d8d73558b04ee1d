package metrics

import (
	"fmt"

	"github.com/awscache/awscache/internal/config"
)

// AlertKind names the threshold an alert violated.
type AlertKind string

const (
	AlertHighMissRate  AlertKind = "high_miss_rate"
	AlertSlowResponses AlertKind = "slow_responses"
	AlertLowHitRate    AlertKind = "low_hit_rate"
)

// Alert is one threshold violation found in a snapshot.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// Evaluate checks a snapshot against the configured thresholds and returns
// the violations. It reads only its arguments, so it is safe and cheap to
// run on every scheduler tick. Thresholds set to zero are disabled, and an
// empty snapshot never alerts: no traffic is not a degraded cache.
func Evaluate(snap Snapshot, thresholds config.AlertThresholds) []Alert {
	if snap.Hits+snap.Misses == 0 {
		return nil
	}

	var alerts []Alert
	missRate := 1 - snap.HitRate

	if thresholds.MaxMissRate > 0 && missRate > thresholds.MaxMissRate {
		alerts = append(alerts, Alert{
			Kind:      AlertHighMissRate,
			Message:   fmt.Sprintf("miss rate %.2f exceeds %.2f", missRate, thresholds.MaxMissRate),
			Value:     missRate,
			Threshold: thresholds.MaxMissRate,
		})
	}
	if thresholds.MaxResponseTime > 0 && snap.AvgResponseTime > thresholds.MaxResponseTime {
		alerts = append(alerts, Alert{
			Kind:      AlertSlowResponses,
			Message:   fmt.Sprintf("average response time %s exceeds %s", snap.AvgResponseTime, thresholds.MaxResponseTime),
			Value:     snap.AvgResponseTime.Seconds(),
			Threshold: thresholds.MaxResponseTime.Seconds(),
		})
	}
	if thresholds.MinHitRate > 0 && snap.HitRate < thresholds.MinHitRate {
		alerts = append(alerts, Alert{
			Kind:      AlertLowHitRate,
			Message:   fmt.Sprintf("hit rate %.2f below %.2f", snap.HitRate, thresholds.MinHitRate),
			Value:     snap.HitRate,
			Threshold: thresholds.MinHitRate,
		})
	}
	return alerts
}
