package payroll

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const routeFilter = `
    WHERE r.status = $1
      AND r.stops > 0
      AND r.route_date BETWEEN $2 AND $3
      AND ($4::text = '' OR r.driver_id = $4)
      AND ($5::text = '' OR r.warehouse_id = $5)
      AND (cardinality($6::text[]) = 0 OR r.zone_id = ANY($6::text[]))
      AND r.company_id = $7
`

func routeFilterArgs(q RouteQuery) []any {
	zoneIDs := q.ZoneIDs
	if zoneIDs == nil {
		zoneIDs = []string{}
	}
	return []any{RouteStatusCompleted, q.StartDate, q.EndDate, q.DriverID, q.WarehouseID, zoneIDs, q.CompanyID}
}

func (s *Store) CompletedRoutes(ctx context.Context, q RouteQuery) ([]Route, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT r.id, r.company_id, r.driver_id, r.warehouse_id, r.route_date, r.status, r.stops, r.cnl,
           r.price_route, r.payment_type, z.id, z.name, z.price_stop
    FROM routes r
    LEFT JOIN zones z ON z.id = r.zone_id`+routeFilter+`
    ORDER BY r.route_date, r.id
  `, routeFilterArgs(q)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		var route Route
		var paymentType string
		var zoneID, zoneName *string
		var zonePrice decimal.NullDecimal
		if err := rows.Scan(&route.ID, &route.CompanyID, &route.DriverID, &route.WarehouseID, &route.Date, &route.Status, &route.Stops, &route.CNL,
			&route.PriceRoute, &paymentType, &zoneID, &zoneName, &zonePrice); err != nil {
			return nil, err
		}
		route.PaymentType = PaymentType(paymentType)
		if zoneID != nil {
			route.Zone = &Zone{ID: *zoneID, PriceStop: zonePrice}
			if zoneName != nil {
				route.Zone.Name = *zoneName
			}
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

func (s *Store) DriversWithRoutes(ctx context.Context, q RouteQuery) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT DISTINCT r.driver_id
    FROM routes r`+routeFilter+`
    ORDER BY r.driver_id
  `, routeFilterArgs(q)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []string
	for rows.Next() {
		var driverID string
		if err := rows.Scan(&driverID); err != nil {
			return nil, err
		}
		drivers = append(drivers, driverID)
	}
	return drivers, rows.Err()
}

func (s *Store) PackagesForRoutes(ctx context.Context, routeIDs []string) ([]Package, error) {
	if len(routeIDs) == 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, `
    SELECT id, route_id, weight
    FROM packages
    WHERE route_id = ANY($1::text[])
    ORDER BY route_id, id
  `, routeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []Package
	for rows.Next() {
		var pkg Package
		if err := rows.Scan(&pkg.ID, &pkg.RouteID, &pkg.Weight); err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

func (s *Store) ConfirmedFinesForPackages(ctx context.Context, packageIDs []string) ([]PayrollFine, error) {
	if len(packageIDs) == 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, `
    SELECT f.id, f.package_id, p.route_id, f.amount, COALESCE(f.fine_type, ''), COALESCE(f.reason, '')
    FROM payroll_fines f
    JOIN packages p ON p.id = f.package_id
    WHERE f.package_id = ANY($1::text[])
      AND f.is_confirmed = true
      AND f.amount > 0
    ORDER BY f.package_id, f.id
  `, packageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fines []PayrollFine
	for rows.Next() {
		var fine PayrollFine
		if err := rows.Scan(&fine.ID, &fine.PackageID, &fine.RouteID, &fine.Amount, &fine.Type, &fine.Reason); err != nil {
			return nil, err
		}
		fines = append(fines, fine)
	}
	return fines, rows.Err()
}

func (s *Store) DriverRates(ctx context.Context, driverID string) ([]DriverRate, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, driver_id, base_amount, min_pay_per_route, failed_stop_penalty,
           weight_bonus, night_bonus, effective_from, effective_to
    FROM driver_rates
    WHERE driver_id = $1
    ORDER BY effective_from DESC, id
  `, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []DriverRate
	for rows.Next() {
		var rate DriverRate
		if err := rows.Scan(&rate.ID, &rate.DriverID, &rate.BaseAmount, &rate.MinPayPerRoute, &rate.FailedStopPenalty,
			&rate.WeightBonus, &rate.NightBonus, &rate.EffectiveFrom, &rate.EffectiveTo); err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

func (s *Store) PayrollConfig(ctx context.Context, warehouseID string) (PayrollConfig, error) {
	if strings.TrimSpace(warehouseID) == "" {
		return PayrollConfig{}, nil
	}
	var cfg PayrollConfig
	err := s.DB.QueryRow(ctx, `
    SELECT id, warehouse_id, enable_weight_extra, enable_penalties, enable_bonuses,
           zone_filter_enabled, default_penalty_amount, weekly_penalty_cap
    FROM payroll_configs
    WHERE warehouse_id = $1
  `, warehouseID).Scan(&cfg.ID, &cfg.WarehouseID, &cfg.EnableWeightExtra, &cfg.EnablePenalties, &cfg.EnableBonuses,
		&cfg.ZoneFilterEnabled, &cfg.DefaultPenaltyAmount, &cfg.WeeklyPenaltyCap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PayrollConfig{WarehouseID: warehouseID}, nil
		}
		return PayrollConfig{}, err
	}

	if cfg.WeightRules, err = s.weightRules(ctx, cfg.ID); err != nil {
		return PayrollConfig{}, err
	}
	if cfg.PenaltyRules, err = s.penaltyRules(ctx, cfg.ID); err != nil {
		return PayrollConfig{}, err
	}
	if cfg.BonusRules, err = s.bonusRules(ctx, cfg.ID); err != nil {
		return PayrollConfig{}, err
	}
	return cfg, nil
}

func (s *Store) weightRules(ctx context.Context, configID string) ([]PayrollWeightRule, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, config_id, min_weight, max_weight, extra_amount, is_active, priority
    FROM payroll_weight_rules
    WHERE config_id = $1 AND is_active = true
    ORDER BY priority DESC, min_weight DESC, id
  `, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []PayrollWeightRule
	for rows.Next() {
		var rule PayrollWeightRule
		if err := rows.Scan(&rule.ID, &rule.ConfigID, &rule.MinWeight, &rule.MaxWeight, &rule.ExtraAmount, &rule.IsActive, &rule.Priority); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) penaltyRules(ctx context.Context, configID string) ([]PayrollPenaltyRule, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, config_id, code, amount, is_active
    FROM payroll_penalty_rules
    WHERE config_id = $1 AND is_active = true
    ORDER BY code, id
  `, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []PayrollPenaltyRule
	for rows.Next() {
		var rule PayrollPenaltyRule
		if err := rows.Scan(&rule.ID, &rule.ConfigID, &rule.Code, &rule.Amount, &rule.IsActive); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) bonusRules(ctx context.Context, configID string) ([]PayrollBonusRule, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, config_id, code, amount, is_active
    FROM payroll_bonus_rules
    WHERE config_id = $1 AND is_active = true
    ORDER BY code, id
  `, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []PayrollBonusRule
	for rows.Next() {
		var rule PayrollBonusRule
		if err := rows.Scan(&rule.ID, &rule.ConfigID, &rule.Code, &rule.Amount, &rule.IsActive); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
