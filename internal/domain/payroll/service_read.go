package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) GetPayRun(ctx context.Context, periodID, driverID string) (PayRun, error) {
	run, err := s.store.GetPayRun(ctx, periodID, driverID)
	if err != nil {
		if errors.Is(err, ErrPayRunNotFound) {
			return PayRun{}, err
		}
		return PayRun{}, persistenceErr("read pay run", err)
	}
	lines, err := s.store.ListPayRunLines(ctx, run.ID)
	if err != nil {
		return PayRun{}, persistenceErr("read pay run lines", err)
	}
	run.Lines = lines
	run.WarningCount = countWarnings(lines)
	return run, nil
}

type AdjustmentInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" validate:"required,max=500"`
	CreatedBy string          `json:"createdBy" validate:"required"`
}

// AddAdjustment records a manual adjustment against an existing pay run.
// Adjustments feed netAmount only; recomputation never touches them.
func (s *Service) AddAdjustment(ctx context.Context, periodID, driverID string, input AdjustmentInput) (PayrollAdjustment, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if err := s.validate.Struct(input); err != nil {
		return PayrollAdjustment{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if input.Amount.IsZero() {
		return PayrollAdjustment{}, fmt.Errorf("%w: adjustment amount must be non-zero", ErrInvalidRequest)
	}
	run, err := s.store.GetPayRun(ctx, periodID, driverID)
	if err != nil {
		if errors.Is(err, ErrPayRunNotFound) {
			return PayrollAdjustment{}, err
		}
		return PayrollAdjustment{}, persistenceErr("read pay run", err)
	}
	created, err := s.store.CreateAdjustment(ctx, PayrollAdjustment{
		PayRunID:  run.ID,
		Amount:    input.Amount,
		Reason:    input.Reason,
		CreatedBy: input.CreatedBy,
	})
	if err != nil {
		return PayrollAdjustment{}, persistenceErr("create adjustment", err)
	}
	s.log.Info("pay run adjustment recorded",
		zap.String("payRunId", run.ID),
		zap.String("adjustmentId", created.ID),
		zap.String("amount", created.Amount.StringFixed(2)),
	)
	return created, nil
}

func (s *Service) ListAdjustments(ctx context.Context, periodID, driverID string) ([]PayrollAdjustment, error) {
	run, err := s.store.GetPayRun(ctx, periodID, driverID)
	if err != nil {
		if errors.Is(err, ErrPayRunNotFound) {
			return nil, err
		}
		return nil, persistenceErr("read pay run", err)
	}
	adjustments, err := s.store.ListAdjustments(ctx, run.ID)
	if err != nil {
		return nil, persistenceErr("list adjustments", err)
	}
	return adjustments, nil
}
