package payroll

import "github.com/shopspring/decimal"

// AggregateFines sums confirmed fines per route. A fine counts only when
// its amount is positive and its package belongs to one of the given
// routes.
func AggregateFines(packages []Package, fines []PayrollFine) map[string]decimal.Decimal {
	packageRoute := make(map[string]string, len(packages))
	for _, pkg := range packages {
		packageRoute[pkg.ID] = pkg.RouteID
	}

	totals := make(map[string]decimal.Decimal)
	for _, fine := range fines {
		if !fine.Amount.IsPositive() {
			continue
		}
		routeID, ok := packageRoute[fine.PackageID]
		if !ok {
			continue
		}
		totals[routeID] = totals[routeID].Add(fine.Amount)
	}
	return totals
}

// FineLine returns the single deduction line for a route's fine total.
func FineLine(routeID string, total decimal.Decimal) (PayRunLine, bool) {
	if total.IsZero() {
		return PayRunLine{}, false
	}
	line := NewLine(SourceFine, routeID, decimal.NewFromInt(1), total.Neg(), TagFineApplied)
	line.Description = "confirmed package fines"
	return line, true
}
