package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"routepay/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	DB db.DBTX
}

func NewStore(conn db.DBTX) *Store {
	return &Store{DB: conn}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(&ledgerTx{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type ledgerTx struct {
	q querier
}

func (t *ledgerTx) FindOrCreatePeriod(ctx context.Context, key PeriodKey) (PayPeriod, error) {
	var period PayPeriod
	err := t.q.QueryRow(ctx, `
    INSERT INTO pay_periods (id, company_id, warehouse_id, start_date, end_date, status)
    VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (company_id, warehouse_id, start_date, end_date)
    DO UPDATE SET company_id = EXCLUDED.company_id
    RETURNING id, company_id, warehouse_id, start_date, end_date, status, created_at
  `, uuid.NewString(), key.CompanyID, key.WarehouseID, key.StartDate, key.EndDate, PeriodStatusOpen).Scan(
		&period.ID, &period.CompanyID, &period.WarehouseID, &period.StartDate, &period.EndDate, &period.Status, &period.CreatedAt,
	)
	if err != nil {
		return PayPeriod{}, err
	}
	return period, nil
}

const payRunColumns = `id, period_id, driver_id, gross_amount, adjustments, net_amount, status, calculated_at, COALESCE(calculated_by, '')`

func scanPayRun(row pgx.Row) (PayRun, error) {
	var run PayRun
	err := row.Scan(&run.ID, &run.PeriodID, &run.DriverID, &run.GrossAmount, &run.Adjustments, &run.NetAmount,
		&run.Status, &run.CalculatedAt, &run.CalculatedBy)
	return run, err
}

// FindOrCreatePayRun upserts on (period_id, driver_id). The no-op update
// also takes the row lock for the rest of the transaction.
func (t *ledgerTx) FindOrCreatePayRun(ctx context.Context, periodID, driverID string) (PayRun, error) {
	return scanPayRun(t.q.QueryRow(ctx, `
    INSERT INTO pay_runs (id, period_id, driver_id, status)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (period_id, driver_id)
    DO UPDATE SET driver_id = EXCLUDED.driver_id
    RETURNING `+payRunColumns, uuid.NewString(), periodID, driverID, PayRunStatusDraft))
}

func (t *ledgerTx) DeleteLines(ctx context.Context, payRunID string) (int64, error) {
	tag, err := t.q.Exec(ctx, "DELETE FROM pay_run_lines WHERE pay_run_id = $1", payRunID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const lineColumnCount = 10

func (t *ledgerTx) InsertLines(ctx context.Context, lines []PayRunLine) error {
	if len(lines) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO pay_run_lines (id, pay_run_id, position, source_type, source_id, qty, rate, amount, tags, description) VALUES ")
	args := make([]any, 0, len(lines)*lineColumnCount)
	for i, line := range lines {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * lineColumnCount
		sb.WriteString("(")
		for col := 1; col <= lineColumnCount; col++ {
			if col > 1 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", base+col)
		}
		sb.WriteString(")")
		args = append(args, line.ID, line.PayRunID, line.Position, string(line.SourceType), line.SourceID,
			line.Qty, line.Rate, line.Amount, line.Tags, line.Description)
	}
	_, err := t.q.Exec(ctx, sb.String(), args...)
	return err
}

func (t *ledgerTx) UpdateTotals(ctx context.Context, run PayRun) (PayRun, error) {
	return scanPayRun(t.q.QueryRow(ctx, `
    UPDATE pay_runs
    SET gross_amount = $2, status = $3, calculated_at = $4, calculated_by = $5, updated_at = now()
    WHERE id = $1
    RETURNING `+payRunColumns, run.ID, run.GrossAmount, run.Status, run.CalculatedAt, run.CalculatedBy))
}

func (s *Store) GetPayRun(ctx context.Context, periodID, driverID string) (PayRun, error) {
	var run PayRun
	var period PayPeriod
	err := s.DB.QueryRow(ctx, `
    SELECT r.id, r.period_id, r.driver_id, r.gross_amount, r.adjustments, r.net_amount, r.status,
           r.calculated_at, COALESCE(r.calculated_by, ''),
           p.id, p.company_id, p.warehouse_id, p.start_date, p.end_date, p.status, p.created_at
    FROM pay_runs r
    JOIN pay_periods p ON p.id = r.period_id
    WHERE r.period_id = $1 AND r.driver_id = $2
  `, periodID, driverID).Scan(
		&run.ID, &run.PeriodID, &run.DriverID, &run.GrossAmount, &run.Adjustments, &run.NetAmount, &run.Status,
		&run.CalculatedAt, &run.CalculatedBy,
		&period.ID, &period.CompanyID, &period.WarehouseID, &period.StartDate, &period.EndDate, &period.Status, &period.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PayRun{}, ErrPayRunNotFound
		}
		return PayRun{}, err
	}
	run.Period = &period
	return run, nil
}

func (s *Store) ListPayRunLines(ctx context.Context, payRunID string) ([]PayRunLine, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, pay_run_id, position, source_type, source_id, qty, rate, amount, tags, description
    FROM pay_run_lines
    WHERE pay_run_id = $1
    ORDER BY position
  `, payRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []PayRunLine
	for rows.Next() {
		var line PayRunLine
		var source string
		if err := rows.Scan(&line.ID, &line.PayRunID, &line.Position, &source, &line.SourceID,
			&line.Qty, &line.Rate, &line.Amount, &line.Tags, &line.Description); err != nil {
			return nil, err
		}
		line.SourceType = SourceType(source)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) CreateAdjustment(ctx context.Context, adjustment PayrollAdjustment) (PayrollAdjustment, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return PayrollAdjustment{}, err
	}
	adjustment.ID = uuid.NewString()
	if err := tx.QueryRow(ctx, `
    INSERT INTO payroll_adjustments (id, pay_run_id, amount, reason, created_by)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING created_at
  `, adjustment.ID, adjustment.PayRunID, adjustment.Amount, adjustment.Reason, adjustment.CreatedBy).Scan(&adjustment.CreatedAt); err != nil {
		_ = tx.Rollback(ctx)
		return PayrollAdjustment{}, err
	}
	if _, err := tx.Exec(ctx, `
    UPDATE pay_runs
    SET adjustments = (SELECT COALESCE(SUM(amount), 0) FROM payroll_adjustments WHERE pay_run_id = $1),
        updated_at = now()
    WHERE id = $1
  `, adjustment.PayRunID); err != nil {
		_ = tx.Rollback(ctx)
		return PayrollAdjustment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PayrollAdjustment{}, err
	}
	return adjustment, nil
}

func (s *Store) ListAdjustments(ctx context.Context, payRunID string) ([]PayrollAdjustment, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, pay_run_id, amount, reason, created_by, created_at
    FROM payroll_adjustments
    WHERE pay_run_id = $1
    ORDER BY created_at, id
  `, payRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayrollAdjustment
	for rows.Next() {
		var adj PayrollAdjustment
		if err := rows.Scan(&adj.ID, &adj.PayRunID, &adj.Amount, &adj.Reason, &adj.CreatedBy, &adj.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, rows.Err()
}
