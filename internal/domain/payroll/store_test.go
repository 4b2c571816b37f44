package payroll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func TestStoreWithinTxCommits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM pay_run_lines").
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	var removed int64
	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		var err error
		removed, err = tx.DeleteLines(context.Background(), "run-1")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWithinTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM pay_run_lines").
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO pay_run_lines").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		if _, err := tx.DeleteLines(context.Background(), "run-1"); err != nil {
			return err
		}
		return tx.InsertLines(context.Background(), []PayRunLine{
			{ID: "line-1", PayRunID: "run-1", Position: 1, SourceType: SourceStop, Qty: dec("1"), Rate: dec("2"), Amount: dec("2")},
		})
	})

	require.EqualError(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertLinesBuildsOneStatement(t *testing.T) {
	store, mock := newMockStore(t)
	routeID := "route-1"
	lines := []PayRunLine{
		{ID: "line-1", PayRunID: "run-1", Position: 1, SourceType: SourceStop, SourceID: &routeID,
			Qty: dec("9"), Rate: dec("2.50"), Amount: dec("22.50"), Tags: TagUseZoneRate},
		{ID: "line-2", PayRunID: "run-1", Position: 2, SourceType: SourceInfo,
			Qty: dec("1"), Rate: dec("0"), Amount: dec("0"), Tags: TagWarnCount, Description: "warnings"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pay_run_lines \(.+\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7,\$8,\$9,\$10\),\(\$11,.+,\$20\)`).
		WithArgs(
			"line-1", "run-1", 1, "stop", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), TagUseZoneRate, "",
			"line-2", "run-1", 2, "info", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), TagWarnCount, "warnings",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		return tx.InsertLines(context.Background(), lines)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertLinesSkipsEmptySet(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		return tx.InsertLines(context.Background(), nil)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetPayRun(t *testing.T) {
	store, mock := newMockStore(t)
	calculatedAt := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM pay_runs r").
		WithArgs("period-1", "driver-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "period_id", "driver_id", "gross_amount", "adjustments", "net_amount", "status",
			"calculated_at", "calculated_by",
			"id", "company_id", "warehouse_id", "start_date", "end_date", "status", "created_at",
		}).AddRow(
			"run-1", "period-1", "driver-1", "21.50", "-1.50", "20.00", PayRunStatusDraft,
			&calculatedAt, "user-1",
			"period-1", "company-1", "wh-1", day(2026, 3, 2), day(2026, 3, 8), PeriodStatusOpen, created,
		))

	run, err := store.GetPayRun(context.Background(), "period-1", "driver-1")

	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.True(t, run.GrossAmount.Equal(dec("21.50")))
	assert.True(t, run.NetAmount.Equal(dec("20")))
	require.NotNil(t, run.CalculatedAt)
	assert.True(t, run.CalculatedAt.Equal(calculatedAt))
	require.NotNil(t, run.Period)
	assert.Equal(t, "wh-1", run.Period.WarehouseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetPayRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM pay_runs r").
		WithArgs("period-1", "driver-9").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetPayRun(context.Background(), "period-1", "driver-9")

	assert.ErrorIs(t, err, ErrPayRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePackagesForRoutes(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM packages").
		WithArgs([]string{"route-1", "route-2"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "route_id", "weight"}).
			AddRow("p1", "route-1", "12.5").
			AddRow("p2", "route-2", "3"))

	packages, err := store.PackagesForRoutes(context.Background(), []string{"route-1", "route-2"})

	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.True(t, packages[0].Weight.Valid)
	assert.True(t, packages[0].Weight.Decimal.Equal(dec("12.5")))
	assert.Equal(t, "route-2", packages[1].RouteID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePackagesForNoRoutesSkipsQuery(t *testing.T) {
	store, mock := newMockStore(t)

	packages, err := store.PackagesForRoutes(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, packages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDriversWithRoutes(t *testing.T) {
	store, mock := newMockStore(t)
	query := RouteQuery{CompanyID: "company-1", WarehouseID: "wh-1", StartDate: day(2026, 3, 2), EndDate: day(2026, 3, 8)}

	mock.ExpectQuery(`SELECT DISTINCT r.driver_id.+AND r.company_id = \$7`).
		WithArgs(RouteStatusCompleted, query.StartDate, query.EndDate, "", "wh-1", []string{}, "company-1").
		WillReturnRows(pgxmock.NewRows([]string{"driver_id"}).AddRow("driver-1").AddRow("driver-2"))

	drivers, err := store.DriversWithRoutes(context.Background(), query)

	require.NoError(t, err)
	assert.Equal(t, []string{"driver-1", "driver-2"}, drivers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePayrollConfigMissingIsZeroConfig(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM payroll_configs").
		WithArgs("wh-1").
		WillReturnError(pgx.ErrNoRows)

	cfg, err := store.PayrollConfig(context.Background(), "wh-1")

	require.NoError(t, err)
	assert.Equal(t, "wh-1", cfg.WarehouseID)
	assert.False(t, cfg.EnableWeightExtra)
	assert.Empty(t, cfg.WeightRules)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCreateAdjustmentRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO payroll_adjustments").
		WithArgs(pgxmock.AnyArg(), "run-1", pgxmock.AnyArg(), "fuel", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE pay_runs").
		WithArgs("run-1").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := store.CreateAdjustment(context.Background(), PayrollAdjustment{
		PayRunID: "run-1", Amount: dec("5"), Reason: "fuel", CreatedBy: "user-1",
	})

	require.EqualError(t, err, "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCompletedRoutesScopedToCompany(t *testing.T) {
	store, mock := newMockStore(t)
	query := RouteQuery{CompanyID: "company-1", DriverID: "driver-1", StartDate: day(2026, 3, 2), EndDate: day(2026, 3, 8)}

	mock.ExpectQuery(`FROM routes r.+AND r.company_id = \$7`).
		WithArgs(RouteStatusCompleted, query.StartDate, query.EndDate, "driver-1", "", []string{}, "company-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "company_id", "driver_id", "warehouse_id", "route_date", "status", "stops", "cnl",
			"price_route", "payment_type", "id", "name", "price_stop",
		}).AddRow(
			"route-1", "company-1", "driver-1", "wh-1", day(2026, 3, 2), RouteStatusCompleted, 10, 1,
			decimal.NullDecimal{}, string(PaymentPerStop), (*string)(nil), (*string)(nil), decimal.NullDecimal{},
		))

	routes, err := store.CompletedRoutes(context.Background(), query)

	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "company-1", routes[0].CompanyID)
	assert.Nil(t, routes[0].Zone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
