package service

import (
	"sort"

	"mediaguard/internal/registry/models"
)

// SuspiciousThreshold is the risk score at which a usage report is flagged.
const SuspiciousThreshold = 0.5

// RiskScore is the weighted usage risk:
// min(0.3, 0.1*platforms) + 0.2*disputed + min(0.2, 0.01*days), clamped to [0, 1].
func RiskScore(platforms, disputed int, daysSpread float64) float64 {
	score := min(0.3, 0.1*float64(platforms)) +
		0.2*float64(disputed) +
		min(0.2, 0.01*max(0, daysSpread))
	return max(0, min(1, score))
}

// usageStats extracts the risk inputs from an identity's events: distinct
// platforms in first-seen order, disputed events, and the days between the
// earliest and latest event.
func usageStats(events []*models.ContentEvent) (platforms []string, disputed int, daysSpread float64) {
	sorted := append([]*models.ContentEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	seen := map[string]bool{}
	for _, e := range sorted {
		if e.PlatformID != "" && !seen[e.PlatformID] {
			seen[e.PlatformID] = true
			platforms = append(platforms, e.PlatformID)
		}
		if e.State == models.EventDisputed {
			disputed++
		}
	}
	if len(sorted) > 1 {
		span := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp)
		daysSpread = span.Hours() / 24
	}
	return platforms, disputed, daysSpread
}
