package payroll

import "context"

type OperationalReader interface {
	CompletedRoutes(ctx context.Context, q RouteQuery) ([]Route, error)
	PackagesForRoutes(ctx context.Context, routeIDs []string) ([]Package, error)
	ConfirmedFinesForPackages(ctx context.Context, packageIDs []string) ([]PayrollFine, error)
	DriversWithRoutes(ctx context.Context, q RouteQuery) ([]string, error)
}

type ConfigReader interface {
	DriverRates(ctx context.Context, driverID string) ([]DriverRate, error)
	// PayrollConfig returns the warehouse config with its active weight
	// rules, or a zero config with every feature disabled when none exists.
	PayrollConfig(ctx context.Context, warehouseID string) (PayrollConfig, error)
}

// LedgerTx is the write side of one pay run rebuild. All calls share a
// single transaction.
type LedgerTx interface {
	FindOrCreatePeriod(ctx context.Context, key PeriodKey) (PayPeriod, error)
	FindOrCreatePayRun(ctx context.Context, periodID, driverID string) (PayRun, error)
	DeleteLines(ctx context.Context, payRunID string) (int64, error)
	InsertLines(ctx context.Context, lines []PayRunLine) error
	UpdateTotals(ctx context.Context, run PayRun) (PayRun, error)
}

type LedgerStore interface {
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
	GetPayRun(ctx context.Context, periodID, driverID string) (PayRun, error)
	ListPayRunLines(ctx context.Context, payRunID string) ([]PayRunLine, error)
	CreateAdjustment(ctx context.Context, adjustment PayrollAdjustment) (PayrollAdjustment, error)
	ListAdjustments(ctx context.Context, payRunID string) ([]PayrollAdjustment, error)
}

type StoreAPI interface {
	OperationalReader
	ConfigReader
	LedgerStore
}
