package payroll

import (
	"sort"
	"time"
)

// SelectRate picks the rate card whose validity window overlaps the period:
// effectiveFrom on or before periodEnd and effectiveTo unset or on or after
// periodStart. The most recent effectiveFrom wins.
func SelectRate(rates []DriverRate, periodStart, periodEnd time.Time) (DriverRate, bool) {
	candidates := make([]DriverRate, 0, len(rates))
	for _, rate := range rates {
		if rate.EffectiveFrom.After(periodEnd) {
			continue
		}
		if rate.EffectiveTo != nil && rate.EffectiveTo.Before(periodStart) {
			continue
		}
		candidates = append(candidates, rate)
	}
	if len(candidates) == 0 {
		return DriverRate{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].EffectiveFrom.Equal(candidates[j].EffectiveFrom) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].EffectiveFrom.After(candidates[j].EffectiveFrom)
	})
	return candidates[0], true
}
