package payroll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Locker serializes computations of the same pay run across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

type Publisher interface {
	PublishPayRunComputed(ctx context.Context, event PayRunComputedEvent) error
}

type Recorder interface {
	ObservePayRun(outcome string, lines, warnings int, duration time.Duration)
}

const (
	OutcomeComputed      = "computed"
	OutcomeInvalid       = "invalid"
	OutcomeConfigMissing = "config_missing"
	OutcomeInProgress    = "in_progress"
	OutcomeCancelled     = "cancelled"
	OutcomeFailed        = "failed"
)

var lineNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("routepay/pay_run_lines"))

type ComputeRequest struct {
	CompanyID   string    `json:"companyId" validate:"required"`
	DriverID    string    `json:"driverId" validate:"required"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	WarehouseID string    `json:"warehouseId,omitempty"`
	RequestedBy string    `json:"requestedBy" validate:"required"`
	ZoneIDs     []string  `json:"zoneIds,omitempty" validate:"dive,required"`
}

type PayRunComputedEvent struct {
	EventType    string          `json:"event_type"`
	PayRunID     string          `json:"pay_run_id"`
	PeriodID     string          `json:"period_id"`
	CompanyID    string          `json:"company_id"`
	WarehouseID  string          `json:"warehouse_id,omitempty"`
	DriverID     string          `json:"driver_id"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	GrossAmount  decimal.Decimal `json:"gross_amount"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	LineCount    int             `json:"line_count"`
	WarningCount int             `json:"warning_count"`
	RequestedBy  string          `json:"requested_by"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

type Service struct {
	store        StoreAPI
	log          *zap.Logger
	validate     *validator.Validate
	locker       Locker
	publisher    Publisher
	recorder     Recorder
	now          func() time.Time
	batchWorkers int
}

type Option func(*Service)

func WithLocker(locker Locker) Option {
	return func(s *Service) { s.locker = locker }
}

func WithPublisher(publisher Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithRecorder(recorder Recorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithBatchWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchWorkers = n
		}
	}
}

func NewService(store StoreAPI, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:        store,
		log:          logger.Named("payroll"),
		validate:     validator.New(),
		now:          time.Now,
		batchWorkers: defaultBatchWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalendarDate truncates t to its calendar date at UTC midnight.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r ComputeRequest) normalized() ComputeRequest {
	r.CompanyID = strings.TrimSpace(r.CompanyID)
	r.DriverID = strings.TrimSpace(r.DriverID)
	r.WarehouseID = strings.TrimSpace(r.WarehouseID)
	r.RequestedBy = strings.TrimSpace(r.RequestedBy)
	if !r.PeriodStart.IsZero() {
		r.PeriodStart = CalendarDate(r.PeriodStart)
	}
	if !r.PeriodEnd.IsZero() {
		r.PeriodEnd = CalendarDate(r.PeriodEnd)
	}
	r.ZoneIDs = normalizeIDs(r.ZoneIDs)
	return r
}

func (r ComputeRequest) lockKey() string {
	return strings.Join([]string{
		"payrun",
		r.CompanyID,
		r.WarehouseID,
		r.PeriodStart.Format(DateLayout),
		r.PeriodEnd.Format(DateLayout),
		r.DriverID,
	}, ":")
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Service) validateRequest(req ComputeRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return validatePeriod(req.PeriodStart, req.PeriodEnd)
}

func validatePeriod(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: period start and end are required", ErrInvalidRequest)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: period end %s is before start %s", ErrInvalidRequest,
			end.Format(DateLayout), start.Format(DateLayout))
	}
	return nil
}

// ComputePayRunAt accepts arbitrary instants and prices the calendar dates
// they fall on.
func (s *Service) ComputePayRunAt(ctx context.Context, req ComputeRequest, from, to time.Time) (PayRun, error) {
	req.PeriodStart = CalendarDate(from)
	req.PeriodEnd = CalendarDate(to)
	return s.ComputePayRun(ctx, req)
}

// ComputePayRun derives the driver's pay run for the period from the
// operational records and replaces any previously generated lines. The
// rebuild is committed atomically; on error the stored run is unchanged.
func (s *Service) ComputePayRun(ctx context.Context, req ComputeRequest) (PayRun, error) {
	begin := time.Now()
	req = req.normalized()
	if err := s.validateRequest(req); err != nil {
		s.observe(OutcomeInvalid, 0, 0, begin)
		return PayRun{}, err
	}

	release := func() {}
	if s.locker != nil {
		unlock, acquired, err := s.locker.Acquire(ctx, req.lockKey())
		if err != nil {
			s.observe(OutcomeFailed, 0, 0, begin)
			return PayRun{}, fmt.Errorf("acquire pay run lock: %w", err)
		}
		if !acquired {
			s.observe(OutcomeInProgress, 0, 0, begin)
			return PayRun{}, fmt.Errorf("%w: driver %s", ErrComputationInProgress, req.DriverID)
		}
		release = unlock
	}

	run, err := s.computePayRun(ctx, req)
	release()
	if err != nil {
		s.observe(outcomeOf(err), 0, 0, begin)
		s.log.Warn("pay run computation failed",
			zap.String("companyId", req.CompanyID),
			zap.String("driverId", req.DriverID),
			zap.String("periodStart", req.PeriodStart.Format(DateLayout)),
			zap.String("periodEnd", req.PeriodEnd.Format(DateLayout)),
			zap.Error(err),
		)
		return PayRun{}, err
	}
	s.observe(OutcomeComputed, len(run.Lines), run.WarningCount, begin)

	s.log.Info("pay run computed",
		zap.String("payRunId", run.ID),
		zap.String("periodId", run.PeriodID),
		zap.String("driverId", run.DriverID),
		zap.Int("lines", len(run.Lines)),
		zap.Int("warnings", run.WarningCount),
		zap.String("gross", run.GrossAmount.StringFixed(2)),
		zap.Duration("duration", time.Since(begin)),
	)
	// The run is committed; a caller going away must not drop the event.
	s.publish(context.WithoutCancel(ctx), req, run)
	return run, nil
}

func (s *Service) computePayRun(ctx context.Context, req ComputeRequest) (PayRun, error) {
	rates, err := s.store.DriverRates(ctx, req.DriverID)
	if err != nil {
		return PayRun{}, persistenceErr("read driver rates", err)
	}
	rate, ok := SelectRate(rates, req.PeriodStart, req.PeriodEnd)
	if !ok {
		return PayRun{}, fmt.Errorf("%w: no driver rate for driver %s covering %s..%s", ErrConfigurationMissing,
			req.DriverID, req.PeriodStart.Format(DateLayout), req.PeriodEnd.Format(DateLayout))
	}

	query, cfg, err := s.routeQuery(ctx, req.DriverID, req)
	if err != nil {
		return PayRun{}, err
	}
	ledger, err := s.priceRoutes(ctx, query, cfg, rate)
	if err != nil {
		return PayRun{}, err
	}
	gross := ledger.Gross()
	warnings := ledger.Warnings()
	lines := ledger.Close()

	if err := ctx.Err(); err != nil {
		return PayRun{}, err
	}

	calculatedAt := s.now().UTC()
	var saved PayRun
	var period PayPeriod
	err = s.store.WithinTx(ctx, func(tx LedgerTx) error {
		var err error
		period, err = tx.FindOrCreatePeriod(ctx, PeriodKey{
			CompanyID:   req.CompanyID,
			WarehouseID: req.WarehouseID,
			StartDate:   req.PeriodStart,
			EndDate:     req.PeriodEnd,
		})
		if err != nil {
			return persistenceErr("find or create pay period", err)
		}
		run, err := tx.FindOrCreatePayRun(ctx, period.ID, req.DriverID)
		if err != nil {
			return persistenceErr("find or create pay run", err)
		}
		if _, err := tx.DeleteLines(ctx, run.ID); err != nil {
			return persistenceErr("delete pay run lines", err)
		}
		stamped := stampLines(run.ID, lines)
		if err := tx.InsertLines(ctx, stamped); err != nil {
			return persistenceErr("insert pay run lines", err)
		}
		run.GrossAmount = gross
		run.Status = PayRunStatusDraft
		run.CalculatedAt = &calculatedAt
		run.CalculatedBy = req.RequestedBy
		saved, err = tx.UpdateTotals(ctx, run)
		if err != nil {
			return persistenceErr("update pay run totals", err)
		}
		saved.Lines = stamped
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PayRun{}, ctxErr
		}
		return PayRun{}, persistenceErr("commit pay run", err)
	}
	saved.Period = &period
	saved.WarningCount = warnings
	return saved, nil
}

// routeQuery builds the operational query for a driver (empty for every
// driver). Zone filtering only applies when the warehouse config enables it.
func (s *Service) routeQuery(ctx context.Context, driverID string, req ComputeRequest) (RouteQuery, PayrollConfig, error) {
	var cfg PayrollConfig
	if req.WarehouseID != "" {
		var err error
		cfg, err = s.store.PayrollConfig(ctx, req.WarehouseID)
		if err != nil {
			return RouteQuery{}, PayrollConfig{}, persistenceErr("read payroll config", err)
		}
	}
	query := RouteQuery{
		CompanyID:   req.CompanyID,
		DriverID:    driverID,
		WarehouseID: req.WarehouseID,
		StartDate:   req.PeriodStart,
		EndDate:     req.PeriodEnd,
	}
	if cfg.ZoneFilterEnabled {
		query.ZoneIDs = req.ZoneIDs
	}
	return query, cfg, nil
}

func (s *Service) priceRoutes(ctx context.Context, query RouteQuery, cfg PayrollConfig, rate DriverRate) (*Ledger, error) {
	routes, err := s.store.CompletedRoutes(ctx, query)
	if err != nil {
		return nil, persistenceErr("read completed routes", err)
	}
	qualifying := make([]Route, 0, len(routes))
	for _, route := range routes {
		if Qualifies(route, query) {
			qualifying = append(qualifying, route)
		}
	}
	sort.SliceStable(qualifying, func(i, j int) bool {
		if !qualifying[i].Date.Equal(qualifying[j].Date) {
			return qualifying[i].Date.Before(qualifying[j].Date)
		}
		return qualifying[i].ID < qualifying[j].ID
	})

	routeIDs := make([]string, 0, len(qualifying))
	for _, route := range qualifying {
		routeIDs = append(routeIDs, route.ID)
	}

	var packages []Package
	if len(routeIDs) > 0 {
		packages, err = s.store.PackagesForRoutes(ctx, routeIDs)
		if err != nil {
			return nil, persistenceErr("read route packages", err)
		}
	}
	weights := make(map[string][]decimal.Decimal, len(routeIDs))
	packageIDs := make([]string, 0, len(packages))
	for _, pkg := range packages {
		packageIDs = append(packageIDs, pkg.ID)
		if pkg.Weight.Valid {
			weights[pkg.RouteID] = append(weights[pkg.RouteID], pkg.Weight.Decimal)
		}
	}

	var fines []PayrollFine
	if len(packageIDs) > 0 {
		fines, err = s.store.ConfirmedFinesForPackages(ctx, packageIDs)
		if err != nil {
			return nil, persistenceErr("read confirmed fines", err)
		}
	}
	fineTotals := AggregateFines(packages, fines)

	var rules []PayrollWeightRule
	if cfg.EnableWeightExtra {
		rules = SortWeightRules(cfg.WeightRules)
	}

	ledger := NewLedger()
	for _, route := range qualifying {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines := PriceRoute(RouteInput{
			Route:       route,
			Weights:     weights[route.ID],
			FineTotal:   fineTotals[route.ID],
			WeightRules: rules,
		}, rate)
		for _, line := range lines {
			if line.WarningCount() > 0 {
				s.log.Warn("route priced with fallback",
					zap.String("routeId", route.ID),
					zap.String("driverId", route.DriverID),
					zap.String("tags", line.Tags),
				)
			}
		}
		ledger.Add(lines...)
	}
	return ledger, nil
}

func stampLines(payRunID string, lines []PayRunLine) []PayRunLine {
	out := make([]PayRunLine, len(lines))
	for i, line := range lines {
		line.PayRunID = payRunID
		line.ID = uuid.NewSHA1(lineNamespace, []byte(payRunID+":"+strconv.Itoa(line.Position))).String()
		out[i] = line
	}
	return out
}

func countWarnings(lines []PayRunLine) int {
	count := 0
	for _, line := range lines {
		count += line.WarningCount()
	}
	return count
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrConfigurationMissing):
		return OutcomeConfigMissing
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

func (s *Service) observe(outcome string, lines, warnings int, begin time.Time) {
	if s.recorder == nil {
		return
	}
	s.recorder.ObservePayRun(outcome, lines, warnings, time.Since(begin))
}

func (s *Service) publish(ctx context.Context, req ComputeRequest, run PayRun) {
	if s.publisher == nil {
		return
	}
	event := PayRunComputedEvent{
		EventType:    EventPayRunComputed,
		PayRunID:     run.ID,
		PeriodID:     run.PeriodID,
		CompanyID:    req.CompanyID,
		WarehouseID:  req.WarehouseID,
		DriverID:     run.DriverID,
		StartDate:    req.PeriodStart.Format(DateLayout),
		EndDate:      req.PeriodEnd.Format(DateLayout),
		GrossAmount:  run.GrossAmount,
		NetAmount:    run.NetAmount,
		LineCount:    len(run.Lines),
		WarningCount: run.WarningCount,
		RequestedBy:  req.RequestedBy,
		OccurredAt:   s.now().UTC(),
	}
	if err := s.publisher.PublishPayRunComputed(ctx, event); err != nil {
		s.log.Warn("publish pay run computed failed", zap.String("payRunId", run.ID), zap.Error(err))
	}
}
