package payroll

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SortWeightRules returns the active rules ordered by priority desc, then
// minWeight desc. Ties keep id order so matching is deterministic.
func SortWeightRules(rules []PayrollWeightRule) []PayrollWeightRule {
	sorted := make([]PayrollWeightRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			sorted = append(sorted, rule)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.MinWeight.Equal(b.MinWeight) {
			return a.MinWeight.GreaterThan(b.MinWeight)
		}
		return a.ID < b.ID
	})
	return sorted
}

// MatchWeightRule returns the first rule of sorted whose bracket contains
// weight. Both bracket bounds are inclusive; an unset max is open-ended.
func MatchWeightRule(sorted []PayrollWeightRule, weight decimal.Decimal) (PayrollWeightRule, bool) {
	for _, rule := range sorted {
		if weight.LessThan(rule.MinWeight) {
			continue
		}
		if rule.MaxWeight.Valid && weight.GreaterThan(rule.MaxWeight.Decimal) {
			continue
		}
		return rule, true
	}
	return PayrollWeightRule{}, false
}

// WeightExtras emits one line per matched rule with qty = matched package
// count. Unmatched weights contribute nothing.
func WeightExtras(routeID string, sorted []PayrollWeightRule, weights []decimal.Decimal) []PayRunLine {
	if len(sorted) == 0 || len(weights) == 0 {
		return nil
	}
	counts := make(map[string]int64, len(sorted))
	for _, weight := range weights {
		if rule, ok := MatchWeightRule(sorted, weight); ok {
			counts[rule.ID]++
		}
	}

	var lines []PayRunLine
	for _, rule := range sorted {
		count, ok := counts[rule.ID]
		if !ok {
			continue
		}
		delete(counts, rule.ID)
		line := NewLine(SourceWeightExtra, routeID, decimal.NewFromInt(count), rule.ExtraAmount, TagWeightExtra)
		line.Description = weightBracketLabel(rule)
		lines = append(lines, line)
	}
	return lines
}

func weightBracketLabel(rule PayrollWeightRule) string {
	if rule.MaxWeight.Valid {
		return "weight " + rule.MinWeight.String() + "-" + rule.MaxWeight.Decimal.String()
	}
	return "weight " + rule.MinWeight.String() + "+"
}
