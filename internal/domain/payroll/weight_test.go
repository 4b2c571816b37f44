package payroll

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bracketRules() []PayrollWeightRule {
	return []PayrollWeightRule{
		{ID: "light", MinWeight: dec("0"), MaxWeight: nullDec("5"), ExtraAmount: dec("0.25"), IsActive: true, Priority: 1},
		{ID: "medium", MinWeight: dec("5"), MaxWeight: nullDec("20"), ExtraAmount: dec("0.75"), IsActive: true, Priority: 1},
		{ID: "heavy", MinWeight: dec("20"), MaxWeight: nullDec("50"), ExtraAmount: dec("2"), IsActive: true, Priority: 1},
		{ID: "inactive", MinWeight: dec("0"), ExtraAmount: dec("100"), IsActive: false, Priority: 9},
	}
}

func TestSortWeightRulesOrdersByPriorityThenMinWeight(t *testing.T) {
	rules := append(bracketRules(), PayrollWeightRule{
		ID: "promo", MinWeight: dec("1"), MaxWeight: nullDec("2"), ExtraAmount: dec("5"), IsActive: true, Priority: 5,
	})

	sorted := SortWeightRules(rules)

	ids := make([]string, 0, len(sorted))
	for _, rule := range sorted {
		ids = append(ids, rule.ID)
	}
	assert.Equal(t, []string{"promo", "heavy", "medium", "light"}, ids)
}

func TestMatchWeightRuleBoundaries(t *testing.T) {
	sorted := SortWeightRules(bracketRules())

	rule, ok := MatchWeightRule(sorted, dec("5"))
	require.True(t, ok)
	assert.Equal(t, "medium", rule.ID, "weight equal to minWeight matches the higher bracket first")

	rule, ok = MatchWeightRule(sorted, dec("50"))
	require.True(t, ok)
	assert.Equal(t, "heavy", rule.ID)

	rule, ok = MatchWeightRule(sorted, dec("0"))
	require.True(t, ok)
	assert.Equal(t, "light", rule.ID)

	_, ok = MatchWeightRule(sorted, dec("50.001"))
	assert.False(t, ok)
}

func TestMatchWeightRuleOpenEndedBracket(t *testing.T) {
	sorted := SortWeightRules([]PayrollWeightRule{
		{ID: "any-heavy", MinWeight: dec("30"), ExtraAmount: dec("3"), IsActive: true},
	})

	rule, ok := MatchWeightRule(sorted, dec("1000"))
	require.True(t, ok)
	assert.Equal(t, "any-heavy", rule.ID)

	_, ok = MatchWeightRule(sorted, dec("29.99"))
	assert.False(t, ok)
}

func TestWeightExtrasGroupsByRule(t *testing.T) {
	sorted := SortWeightRules(bracketRules())
	weights := []decimal.Decimal{dec("1"), dec("2"), dec("7"), dec("25"), dec("60")}

	lines := WeightExtras("route-1", sorted, weights)

	require.Len(t, lines, 3)
	assertLine(t, lines[0], SourceWeightExtra, "1", "2", "2", TagWeightExtra)
	assert.Equal(t, "weight 20-50", lines[0].Description)
	assertLine(t, lines[1], SourceWeightExtra, "1", "0.75", "0.75", TagWeightExtra)
	assertLine(t, lines[2], SourceWeightExtra, "2", "0.25", "0.5", TagWeightExtra)
}

func TestWeightExtrasWithoutRules(t *testing.T) {
	assert.Empty(t, WeightExtras("route-1", nil, []decimal.Decimal{dec("3")}))
	assert.Empty(t, WeightExtras("route-1", SortWeightRules(bracketRules()), nil))
}
