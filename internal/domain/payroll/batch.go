package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type BatchRequest struct {
	CompanyID   string    `json:"companyId"`
	WarehouseID string    `json:"warehouseId,omitempty"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	RequestedBy string    `json:"requestedBy"`
	ZoneIDs     []string  `json:"zoneIds,omitempty"`
}

type PayRunSummary struct {
	DriverID     string          `json:"driverId"`
	PayRunID     string          `json:"payRunId"`
	GrossAmount  decimal.Decimal `json:"grossAmount"`
	NetAmount    decimal.Decimal `json:"netAmount"`
	LineCount    int             `json:"lineCount"`
	WarningCount int             `json:"warningCount"`
}

type DriverFailure struct {
	DriverID string `json:"driverId"`
	Error    string `json:"error"`
}

type BatchResult struct {
	// PeriodID is empty when no driver was computed.
	PeriodID    string          `json:"periodId,omitempty"`
	PeriodStart string          `json:"periodStart"`
	PeriodEnd   string          `json:"periodEnd"`
	Computed    []PayRunSummary `json:"computed"`
	Failed      []DriverFailure `json:"failed"`
}

// ComputePeriod recomputes every driver with completed routes in the
// period. Drivers run in parallel, each in its own transaction; a failing
// driver is reported in the result and does not stop the others.
func (s *Service) ComputePeriod(ctx context.Context, req BatchRequest) (BatchResult, error) {
	base := ComputeRequest{
		CompanyID:   req.CompanyID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		WarehouseID: req.WarehouseID,
		RequestedBy: req.RequestedBy,
		ZoneIDs:     req.ZoneIDs,
	}.normalized()
	if base.CompanyID == "" || base.RequestedBy == "" {
		return BatchResult{}, fmt.Errorf("%w: company and requester are required", ErrInvalidRequest)
	}
	if err := validatePeriod(base.PeriodStart, base.PeriodEnd); err != nil {
		return BatchResult{}, err
	}

	query, _, err := s.routeQuery(ctx, "", base)
	if err != nil {
		return BatchResult{}, err
	}
	drivers, err := s.store.DriversWithRoutes(ctx, query)
	if err != nil {
		return BatchResult{}, persistenceErr("list drivers with routes", err)
	}

	type outcome struct {
		run PayRun
		err error
	}
	outcomes := make([]outcome, len(drivers))

	var g errgroup.Group
	g.SetLimit(s.batchWorkers)
	for i, driverID := range drivers {
		i, driverID := i, driverID
		g.Go(func() error {
			req := base
			req.DriverID = driverID
			run, err := s.ComputePayRun(ctx, req)
			outcomes[i] = outcome{run: run, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{
		PeriodStart: base.PeriodStart.Format(DateLayout),
		PeriodEnd:   base.PeriodEnd.Format(DateLayout),
		Computed:    make([]PayRunSummary, 0, len(drivers)),
		Failed:      []DriverFailure{},
	}
	for i, driverID := range drivers {
		o := outcomes[i]
		if o.err != nil {
			result.Failed = append(result.Failed, DriverFailure{DriverID: driverID, Error: o.err.Error()})
			continue
		}
		if result.PeriodID == "" {
			result.PeriodID = o.run.PeriodID
		}
		result.Computed = append(result.Computed, PayRunSummary{
			DriverID:     driverID,
			PayRunID:     o.run.ID,
			GrossAmount:  o.run.GrossAmount,
			NetAmount:    o.run.NetAmount,
			LineCount:    len(o.run.Lines),
			WarningCount: o.run.WarningCount,
		})
	}
	s.log.Info("pay period batch computed",
		zap.String("companyId", base.CompanyID),
		zap.String("warehouseId", base.WarehouseID),
		zap.String("periodStart", result.PeriodStart),
		zap.String("periodEnd", result.PeriodEnd),
		zap.Int("computed", len(result.Computed)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, ctx.Err()
}
