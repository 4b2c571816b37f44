// Package payrolltest provides an in-memory payroll.StoreAPI for tests.
package payrolltest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"routepay/internal/domain/payroll"
)

var _ payroll.StoreAPI = (*Store)(nil)

type ledgerState struct {
	seq         int
	periods     map[string]payroll.PayPeriod
	runs        map[string]payroll.PayRun
	lines       map[string][]payroll.PayRunLine
	adjustments map[string][]payroll.PayrollAdjustment
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		seq:         s.seq,
		periods:     make(map[string]payroll.PayPeriod, len(s.periods)),
		runs:        make(map[string]payroll.PayRun, len(s.runs)),
		lines:       make(map[string][]payroll.PayRunLine, len(s.lines)),
		adjustments: make(map[string][]payroll.PayrollAdjustment, len(s.adjustments)),
	}
	for k, v := range s.periods {
		out.periods[k] = v
	}
	for k, v := range s.runs {
		out.runs[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]payroll.PayRunLine(nil), v...)
	}
	for k, v := range s.adjustments {
		out.adjustments[k] = append([]payroll.PayrollAdjustment(nil), v...)
	}
	return out
}

// Store keeps operational records, configuration and the ledger in memory.
// Ledger transactions work on a copy that replaces the committed state only
// when the callback succeeds.
type Store struct {
	mu sync.Mutex

	Routes   []payroll.Route
	Packages []payroll.Package
	Fines    []payroll.PayrollFine
	Rates    []payroll.DriverRate
	Configs  map[string]payroll.PayrollConfig

	state    ledgerState
	failures map[string]error
	commits  int
}

func New() *Store {
	return &Store{
		Configs: map[string]payroll.PayrollConfig{},
		state: ledgerState{
			periods:     map[string]payroll.PayPeriod{},
			runs:        map[string]payroll.PayRun{},
			lines:       map[string][]payroll.PayRunLine{},
			adjustments: map[string][]payroll.PayrollAdjustment{},
		},
		failures: map[string]error{},
	}
}

// FailOn makes the named store method return err until cleared with a nil
// error.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) failure(method string) error {
	return s.failures[method]
}

// Commits returns the number of committed ledger transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) PayRuns() []payroll.PayRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]payroll.PayRun, 0, len(s.state.runs))
	for _, run := range s.state.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Periods() []payroll.PayPeriod {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]payroll.PayPeriod, 0, len(s.state.periods))
	for _, period := range s.state.periods {
		out = append(out, period)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Lines(payRunID string) []payroll.PayRunLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payroll.PayRunLine(nil), s.state.lines[payRunID]...)
}

func (s *Store) CompletedRoutes(ctx context.Context, q payroll.RouteQuery) ([]payroll.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CompletedRoutes"); err != nil {
		return nil, err
	}
	var out []payroll.Route
	for _, route := range s.Routes {
		if payroll.Qualifies(route, q) {
			out = append(out, route)
		}
	}
	return out, nil
}

func (s *Store) DriversWithRoutes(ctx context.Context, q payroll.RouteQuery) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("DriversWithRoutes"); err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	for _, route := range s.Routes {
		if !payroll.Qualifies(route, q) {
			continue
		}
		if _, ok := seen[route.DriverID]; ok {
			continue
		}
		seen[route.DriverID] = struct{}{}
		out = append(out, route.DriverID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) PackagesForRoutes(ctx context.Context, routeIDs []string) ([]payroll.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("PackagesForRoutes"); err != nil {
		return nil, err
	}
	wanted := toSet(routeIDs)
	var out []payroll.Package
	for _, pkg := range s.Packages {
		if _, ok := wanted[pkg.RouteID]; ok {
			out = append(out, pkg)
		}
	}
	return out, nil
}

// ConfirmedFinesForPackages treats every registered fine as confirmed.
func (s *Store) ConfirmedFinesForPackages(ctx context.Context, packageIDs []string) ([]payroll.PayrollFine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ConfirmedFinesForPackages"); err != nil {
		return nil, err
	}
	wanted := toSet(packageIDs)
	var out []payroll.PayrollFine
	for _, fine := range s.Fines {
		if _, ok := wanted[fine.PackageID]; ok && fine.Amount.IsPositive() {
			out = append(out, fine)
		}
	}
	return out, nil
}

func (s *Store) DriverRates(ctx context.Context, driverID string) ([]payroll.DriverRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("DriverRates"); err != nil {
		return nil, err
	}
	var out []payroll.DriverRate
	for _, rate := range s.Rates {
		if rate.DriverID == driverID {
			out = append(out, rate)
		}
	}
	return out, nil
}

func (s *Store) PayrollConfig(ctx context.Context, warehouseID string) (payroll.PayrollConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("PayrollConfig"); err != nil {
		return payroll.PayrollConfig{}, err
	}
	cfg, ok := s.Configs[warehouseID]
	if !ok {
		return payroll.PayrollConfig{WarehouseID: warehouseID}, nil
	}
	active := make([]payroll.PayrollWeightRule, 0, len(cfg.WeightRules))
	for _, rule := range cfg.WeightRules {
		if rule.IsActive {
			active = append(active, rule)
		}
	}
	cfg.WeightRules = active
	return cfg, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx payroll.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("Begin"); err != nil {
		return err
	}
	tx := &ledgerTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.failure("Commit"); err != nil {
		return err
	}
	s.state = tx.state
	s.commits++
	return nil
}

type ledgerTx struct {
	store *Store
	state ledgerState
}

func (t *ledgerTx) nextID(prefix string) string {
	t.state.seq++
	return fmt.Sprintf("%s-%d", prefix, t.state.seq)
}

func (t *ledgerTx) FindOrCreatePeriod(ctx context.Context, key payroll.PeriodKey) (payroll.PayPeriod, error) {
	if err := t.store.failure("FindOrCreatePeriod"); err != nil {
		return payroll.PayPeriod{}, err
	}
	for _, period := range t.state.periods {
		if period.CompanyID == key.CompanyID && period.WarehouseID == key.WarehouseID &&
			period.StartDate.Equal(key.StartDate) && period.EndDate.Equal(key.EndDate) {
			return period, nil
		}
	}
	period := payroll.PayPeriod{
		ID:          t.nextID("period"),
		CompanyID:   key.CompanyID,
		WarehouseID: key.WarehouseID,
		StartDate:   key.StartDate,
		EndDate:     key.EndDate,
		Status:      payroll.PeriodStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	t.state.periods[period.ID] = period
	return period, nil
}

func (t *ledgerTx) FindOrCreatePayRun(ctx context.Context, periodID, driverID string) (payroll.PayRun, error) {
	if err := t.store.failure("FindOrCreatePayRun"); err != nil {
		return payroll.PayRun{}, err
	}
	for _, run := range t.state.runs {
		if run.PeriodID == periodID && run.DriverID == driverID {
			return run, nil
		}
	}
	run := payroll.PayRun{
		ID:          t.nextID("payrun"),
		PeriodID:    periodID,
		DriverID:    driverID,
		GrossAmount: decimal.Zero,
		Adjustments: decimal.Zero,
		NetAmount:   decimal.Zero,
		Status:      payroll.PayRunStatusDraft,
	}
	t.state.runs[run.ID] = run
	return run, nil
}

func (t *ledgerTx) DeleteLines(ctx context.Context, payRunID string) (int64, error) {
	if err := t.store.failure("DeleteLines"); err != nil {
		return 0, err
	}
	removed := int64(len(t.state.lines[payRunID]))
	delete(t.state.lines, payRunID)
	return removed, nil
}

func (t *ledgerTx) InsertLines(ctx context.Context, lines []payroll.PayRunLine) error {
	if err := t.store.failure("InsertLines"); err != nil {
		return err
	}
	for _, line := range lines {
		t.state.lines[line.PayRunID] = append(t.state.lines[line.PayRunID], line)
	}
	return nil
}

func (t *ledgerTx) UpdateTotals(ctx context.Context, run payroll.PayRun) (payroll.PayRun, error) {
	if err := t.store.failure("UpdateTotals"); err != nil {
		return payroll.PayRun{}, err
	}
	stored, ok := t.state.runs[run.ID]
	if !ok {
		return payroll.PayRun{}, fmt.Errorf("pay run %s not found", run.ID)
	}
	stored.GrossAmount = run.GrossAmount
	stored.Status = run.Status
	stored.CalculatedAt = run.CalculatedAt
	stored.CalculatedBy = run.CalculatedBy
	stored.NetAmount = stored.GrossAmount.Add(stored.Adjustments)
	t.state.runs[run.ID] = stored
	return stored, nil
}

func (s *Store) GetPayRun(ctx context.Context, periodID, driverID string) (payroll.PayRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetPayRun"); err != nil {
		return payroll.PayRun{}, err
	}
	for _, run := range s.state.runs {
		if run.PeriodID == periodID && run.DriverID == driverID {
			period := s.state.periods[run.PeriodID]
			run.Period = &period
			return run, nil
		}
	}
	return payroll.PayRun{}, payroll.ErrPayRunNotFound
}

func (s *Store) ListPayRunLines(ctx context.Context, payRunID string) ([]payroll.PayRunLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListPayRunLines"); err != nil {
		return nil, err
	}
	return append([]payroll.PayRunLine(nil), s.state.lines[payRunID]...), nil
}

func (s *Store) CreateAdjustment(ctx context.Context, adjustment payroll.PayrollAdjustment) (payroll.PayrollAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateAdjustment"); err != nil {
		return payroll.PayrollAdjustment{}, err
	}
	run, ok := s.state.runs[adjustment.PayRunID]
	if !ok {
		return payroll.PayrollAdjustment{}, payroll.ErrPayRunNotFound
	}
	s.state.seq++
	adjustment.ID = fmt.Sprintf("adjustment-%d", s.state.seq)
	adjustment.CreatedAt = time.Now().UTC()
	s.state.adjustments[run.ID] = append(s.state.adjustments[run.ID], adjustment)

	total := decimal.Zero
	for _, adj := range s.state.adjustments[run.ID] {
		total = total.Add(adj.Amount)
	}
	run.Adjustments = total
	run.NetAmount = run.GrossAmount.Add(total)
	s.state.runs[run.ID] = run
	return adjustment, nil
}

func (s *Store) ListAdjustments(ctx context.Context, payRunID string) ([]payroll.PayrollAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListAdjustments"); err != nil {
		return nil, err
	}
	return append([]payroll.PayrollAdjustment(nil), s.state.adjustments[payRunID]...), nil
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
