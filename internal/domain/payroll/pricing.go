package payroll

import (
	"github.com/shopspring/decimal"
)

// RouteInput is everything the pricing policy needs to price one route.
type RouteInput struct {
	Route       Route
	Weights     []decimal.Decimal
	FineTotal   decimal.Decimal
	WeightRules []PayrollWeightRule // pre-sorted; nil when weight extras are disabled
}

// EffectivePerStop resolves the per-stop rate for a route. A usable zone
// price never lowers the driver's own base rate.
func EffectivePerStop(base decimal.Decimal, zone *Zone) (decimal.Decimal, string) {
	if zone == nil {
		return base, TagWarnNoZone
	}
	if !zone.PriceStop.Valid || !zone.PriceStop.Decimal.IsPositive() {
		return base, TagWarnZoneFallback
	}
	if base.GreaterThanOrEqual(zone.PriceStop.Decimal) {
		return base, TagUseDriverBase
	}
	return zone.PriceStop.Decimal, TagUseZoneRate
}

// DeliveredAndFailed returns max(0, stops-cnl) and max(0, cnl).
func DeliveredAndFailed(stops, cnl int) (int, int) {
	failed := cnl
	if failed < 0 {
		failed = 0
	}
	delivered := stops - failed
	if delivered < 0 {
		delivered = 0
	}
	return delivered, failed
}

// PriceRoute emits the lines for one qualifying route in a fixed order:
// route/stop pay, failed-stop penalty, weight extras, minimum top-up, fines.
func PriceRoute(in RouteInput, rate DriverRate) []PayRunLine {
	route := in.Route
	delivered, failed := DeliveredAndFailed(route.Stops, route.CNL)
	perStop, rateTag := EffectivePerStop(rate.BaseAmount, route.Zone)
	one := decimal.NewFromInt(1)

	var lines []PayRunLine
	hasRoutePrice := route.PriceRoute.Valid && route.PriceRoute.Decimal.IsPositive()

	switch route.PaymentType {
	case PaymentPerRoute:
		if hasRoutePrice {
			lines = append(lines, NewLine(SourceRoute, route.ID, one, route.PriceRoute.Decimal, TagPerRoute))
		} else {
			warn := NewLine(SourceRoute, route.ID, one, decimal.Zero, TagWarnNoRoutePrice)
			warn.Description = "per-route payment without a route price"
			lines = append(lines, warn)
		}
	case PaymentPerStop:
		if delivered > 0 {
			lines = append(lines, NewLine(SourceStop, route.ID, decimal.NewFromInt(int64(delivered)), perStop, rateTag))
		} else {
			info := NewLine(SourceStop, route.ID, decimal.Zero, perStop, TagInfoNoDelivered, rateTag)
			info.Description = "no delivered stops"
			lines = append(lines, info)
		}
	default:
		if hasRoutePrice {
			lines = append(lines, NewLine(SourceRoute, route.ID, one, route.PriceRoute.Decimal, TagPerRoute))
		}
		if delivered > 0 {
			lines = append(lines, NewLine(SourceStop, route.ID, decimal.NewFromInt(int64(delivered)), perStop, rateTag))
		}
		if len(lines) == 0 {
			info := NewLine(SourceStop, route.ID, decimal.Zero, perStop, TagInfoNoDelivered, rateTag)
			info.Description = "no route price and no delivered stops"
			lines = append(lines, info)
		}
	}

	if failed > 0 && rate.FailedStopPenalty.IsPositive() {
		lines = append(lines, NewLine(SourceStop, route.ID, decimal.NewFromInt(int64(failed)), rate.FailedStopPenalty.Neg(), TagCNLPenalty))
	}

	lines = append(lines, WeightExtras(route.ID, in.WeightRules, in.Weights)...)

	if rate.MinPayPerRoute.Valid {
		subtotal := sumAmounts(lines)
		if subtotal.LessThan(rate.MinPayPerRoute.Decimal) {
			topUp := NewLine(SourceRoute, route.ID, one, rate.MinPayPerRoute.Decimal.Sub(subtotal), TagMinRouteAdjust)
			topUp.Description = "minimum pay per route"
			lines = append(lines, topUp)
		}
	}

	if fine, ok := FineLine(route.ID, in.FineTotal); ok {
		lines = append(lines, fine)
	}
	return lines
}

// Qualifies reports whether a route takes part in the computation for q.
func Qualifies(route Route, q RouteQuery) bool {
	if route.Status != RouteStatusCompleted || route.Stops <= 0 {
		return false
	}
	if route.CompanyID != q.CompanyID {
		return false
	}
	if q.DriverID != "" && route.DriverID != q.DriverID {
		return false
	}
	if route.Date.Before(q.StartDate) || route.Date.After(q.EndDate) {
		return false
	}
	if q.WarehouseID != "" && route.WarehouseID != q.WarehouseID {
		return false
	}
	if len(q.ZoneIDs) > 0 {
		if route.Zone == nil {
			return false
		}
		for _, zoneID := range q.ZoneIDs {
			if zoneID == route.Zone.ID {
				return true
			}
		}
		return false
	}
	return true
}
