package payrollhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"routepay/internal/auth"
	"routepay/internal/domain/audit"
	"routepay/internal/domain/payroll"
	"routepay/internal/platform/jobs"
	"routepay/internal/requestctx"
	"routepay/internal/transport/http/api"
	"routepay/internal/transport/http/middleware"
	"routepay/internal/transport/http/shared"
)

const JobComputePeriod = "payroll.compute_period"

type PayrollService interface {
	ComputePayRun(ctx context.Context, req payroll.ComputeRequest) (payroll.PayRun, error)
	ComputePeriod(ctx context.Context, req payroll.BatchRequest) (payroll.BatchResult, error)
	GetPayRun(ctx context.Context, periodID, driverID string) (payroll.PayRun, error)
	AddAdjustment(ctx context.Context, periodID, driverID string, input payroll.AdjustmentInput) (payroll.PayrollAdjustment, error)
	ListAdjustments(ctx context.Context, periodID, driverID string) ([]payroll.PayrollAdjustment, error)
}

type JobRunner interface {
	Enqueue(ctx context.Context, jobType string, payload any, run jobs.RunFunc) (string, error)
	Get(ctx context.Context, id string) (jobs.Run, error)
}

type AuditLog interface {
	Record(ctx context.Context, evt audit.Event, after any) error
	List(ctx context.Context, companyID string, filter audit.Filter, limit, offset int) ([]audit.Event, error)
}

type Handler struct {
	Service PayrollService
	Jobs    JobRunner
	Perms   middleware.PermissionStore
	Log     *zap.Logger
	// Audit is optional; nil skips audit events and hides the listing route.
	Audit AuditLog
	// Idempotency wraps money-moving POSTs. Nil disables it.
	Idempotency func(http.Handler) http.Handler
}

func NewHandler(service PayrollService, jobRunner JobRunner, perms middleware.PermissionStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: service, Jobs: jobRunner, Perms: perms, Log: logger.Named("payroll.http")}
}

type computePayload struct {
	CompanyID   string   `json:"companyId"`
	DriverID    string   `json:"driverId"`
	WarehouseID string   `json:"warehouseId"`
	PeriodStart string   `json:"periodStart"`
	PeriodEnd   string   `json:"periodEnd"`
	ZoneIDs     []string `json:"zoneIds"`
}

type adjustmentPayload struct {
	Amount json.Number `json:"amount"`
	Reason string      `json:"reason"`
}

type jobAccepted struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	idempotent := h.Idempotency
	if idempotent == nil {
		idempotent = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/payroll", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/pay-runs/compute", h.handleComputePayRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/periods/compute", h.handleComputePeriod)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/periods/compute/async", h.handleComputePeriodAsync)
		r.With(middleware.RequirePermission(auth.PermJobsRead, h.Perms)).Get("/jobs/{jobID}", h.handleGetJob)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/periods/{periodID}/drivers/{driverID}/pay-run", h.handleGetPayRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/periods/{periodID}/drivers/{driverID}/adjustments", h.handleListAdjustments)
		r.With(middleware.RequirePermission(auth.PermPayrollAdjust, h.Perms), idempotent).Post("/periods/{periodID}/drivers/{driverID}/adjustments", h.handleCreateAdjustment)
		if h.Audit != nil {
			r.With(middleware.RequirePermission(auth.PermAuditRead, h.Perms)).Get("/audit-events", h.handleListAuditEvents)
		}
	})
}

func (h *Handler) handleComputePayRun(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	payload, ok := h.decodeCompute(w, r, user, true)
	if !ok {
		return
	}
	start, end := mustDates(payload)

	run, err := h.Service.ComputePayRun(r.Context(), payroll.ComputeRequest{
		CompanyID:   user.CompanyID,
		DriverID:    payload.DriverID,
		PeriodStart: start,
		PeriodEnd:   end,
		WarehouseID: payload.WarehouseID,
		RequestedBy: user.UserID,
		ZoneIDs:     payload.ZoneIDs,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionPayRunCompute, audit.EntityPayRun, run.ID, payRunSnapshot(run))
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleComputePeriod(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	payload, ok := h.decodeCompute(w, r, user, false)
	if !ok {
		return
	}

	result, err := h.Service.ComputePeriod(r.Context(), batchRequest(user, payload))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if result.PeriodID != "" {
		h.record(r, user, audit.ActionPeriodCompute, audit.EntityPeriod, result.PeriodID, map[string]int{
			"computed": len(result.Computed),
			"failed":   len(result.Failed),
		})
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleComputePeriodAsync(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	payload, ok := h.decodeCompute(w, r, user, false)
	if !ok {
		return
	}
	req := batchRequest(user, payload)

	jobID, err := h.Jobs.Enqueue(r.Context(), JobComputePeriod, req, func(ctx context.Context) (any, error) {
		return h.Service.ComputePeriod(ctx, req)
	})
	if err != nil {
		requestctx.Logger(r.Context(), h.Log).Warn("enqueue period computation failed", zap.Error(err))
		if errors.Is(err, jobs.ErrQueueFull) {
			api.Fail(w, http.StatusServiceUnavailable, "job_queue_full", "too many pending computations, retry later", middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusServiceUnavailable, "job_enqueue_failed", "failed to schedule computation", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Location", "/api/v1/payroll/jobs/"+jobID)
	api.Accepted(w, jobAccepted{JobID: jobID, Status: jobs.StatusQueued}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	run, err := h.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			api.Fail(w, http.StatusNotFound, "job_not_found", "job not found", middleware.GetRequestID(r.Context()))
			return
		}
		requestctx.Logger(r.Context(), h.Log).Warn("read job run failed", zap.Error(err))
		api.Fail(w, http.StatusServiceUnavailable, "job_read_failed", "failed to read job", middleware.GetRequestID(r.Context()))
		return
	}
	var scope struct {
		CompanyID string `json:"companyId"`
	}
	if err := json.Unmarshal(run.Payload, &scope); err != nil || scope.CompanyID != user.CompanyID {
		api.Fail(w, http.StatusNotFound, "job_not_found", "job not found", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetPayRun(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	periodID, driverID := chi.URLParam(r, "periodID"), chi.URLParam(r, "driverID")
	if !h.canReadDriver(w, r, user, driverID) {
		return
	}
	run, ok := h.loadPayRun(w, r, user, periodID, driverID)
	if !ok {
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	periodID, driverID := chi.URLParam(r, "periodID"), chi.URLParam(r, "driverID")
	if !h.canReadDriver(w, r, user, driverID) {
		return
	}
	if _, ok := h.loadPayRun(w, r, user, periodID, driverID); !ok {
		return
	}
	adjustments, err := h.Service.ListAdjustments(r.Context(), periodID, driverID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if adjustments == nil {
		adjustments = []payroll.PayrollAdjustment{}
	}
	api.Success(w, adjustments, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	periodID, driverID := chi.URLParam(r, "periodID"), chi.URLParam(r, "driverID")

	var payload adjustmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	v := shared.NewValidator()
	amount, _ := v.Decimal("amount", payload.Amount.String())
	if amount.IsZero() && !v.HasIssues() {
		v.Add("amount", "must be non-zero")
	}
	v.Required("reason", payload.Reason, "is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}
	if _, ok := h.loadPayRun(w, r, user, periodID, driverID); !ok {
		return
	}

	created, err := h.Service.AddAdjustment(r.Context(), periodID, driverID, payroll.AdjustmentInput{
		Amount:    amount,
		Reason:    payload.Reason,
		CreatedBy: user.UserID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdjustmentCreate, audit.EntityAdjustment, created.ID, created)
	api.Created(w, created, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	page := shared.ParsePage(r, 50, 200)
	query := r.URL.Query()
	events, err := h.Audit.List(r.Context(), user.CompanyID, audit.Filter{
		Action:     strings.TrimSpace(query.Get("action")),
		EntityType: strings.TrimSpace(query.Get("entityType")),
		ActorID:    strings.TrimSpace(query.Get("actorId")),
	}, page.Limit, page.Offset)
	if err != nil {
		requestctx.Logger(r.Context(), h.Log).Error("list audit events failed", zap.Error(err))
		api.Fail(w, http.StatusServiceUnavailable, "audit_unavailable", "failed to list audit events", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, events, middleware.GetRequestID(r.Context()))
}

// record writes an audit event. Failures are logged and never fail the
// request, the pay run is already committed.
func (h *Handler) record(r *http.Request, user auth.UserContext, action, entityType, entityID string, after any) {
	if h.Audit == nil {
		return
	}
	err := h.Audit.Record(r.Context(), audit.Event{
		CompanyID:  user.CompanyID,
		ActorID:    user.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		RequestID:  middleware.GetRequestID(r.Context()),
	}, after)
	if err != nil {
		requestctx.Logger(r.Context(), h.Log).Warn("record audit event failed", zap.String("action", action), zap.Error(err))
	}
}

func payRunSnapshot(run payroll.PayRun) map[string]any {
	return map[string]any{
		"periodId":    run.PeriodID,
		"driverId":    run.DriverID,
		"grossAmount": run.GrossAmount,
		"adjustments": run.Adjustments,
		"netAmount":   run.NetAmount,
		"lines":       len(run.Lines),
	}
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (auth.UserContext, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return auth.UserContext{}, false
	}
	return user, true
}

// canReadDriver limits drivers to their own pay runs.
func (h *Handler) canReadDriver(w http.ResponseWriter, r *http.Request, user auth.UserContext, driverID string) bool {
	if user.Role == auth.RoleDriver && user.UserID != driverID {
		api.Fail(w, http.StatusForbidden, "forbidden", "drivers can only read their own pay runs", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

// loadPayRun reads the pay run and hides runs of other companies as not found.
func (h *Handler) loadPayRun(w http.ResponseWriter, r *http.Request, user auth.UserContext, periodID, driverID string) (payroll.PayRun, bool) {
	run, err := h.Service.GetPayRun(r.Context(), periodID, driverID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return payroll.PayRun{}, false
	}
	if run.Period == nil || run.Period.CompanyID != user.CompanyID {
		h.writeServiceError(w, r, payroll.ErrPayRunNotFound)
		return payroll.PayRun{}, false
	}
	return run, true
}

func (h *Handler) decodeCompute(w http.ResponseWriter, r *http.Request, user auth.UserContext, needDriver bool) (computePayload, bool) {
	var payload computePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return computePayload{}, false
	}
	payload.CompanyID = strings.TrimSpace(payload.CompanyID)
	if payload.CompanyID != "" && payload.CompanyID != user.CompanyID {
		api.Fail(w, http.StatusForbidden, "forbidden", "company does not match the authenticated user", middleware.GetRequestID(r.Context()))
		return computePayload{}, false
	}

	v := shared.NewValidator()
	if needDriver {
		v.Required("driverId", payload.DriverID, "is required")
	}
	start, startOK := v.Date("periodStart", payload.PeriodStart)
	end, endOK := v.Date("periodEnd", payload.PeriodEnd)
	if startOK && endOK {
		v.DateOrder("periodStart", start, "periodEnd", end)
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return computePayload{}, false
	}
	return payload, true
}

// mustDates re-parses dates already checked by decodeCompute.
func mustDates(payload computePayload) (time.Time, time.Time) {
	start, _ := shared.ParseDate(strings.TrimSpace(payload.PeriodStart))
	end, _ := shared.ParseDate(strings.TrimSpace(payload.PeriodEnd))
	return start, end
}

func batchRequest(user auth.UserContext, payload computePayload) payroll.BatchRequest {
	start, end := mustDates(payload)
	return payroll.BatchRequest{
		CompanyID:   user.CompanyID,
		WarehouseID: payload.WarehouseID,
		PeriodStart: start,
		PeriodEnd:   end,
		RequestedBy: user.UserID,
		ZoneIDs:     payload.ZoneIDs,
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	var persistence *payroll.PersistenceError
	switch {
	case errors.Is(err, payroll.ErrInvalidRequest):
		api.Fail(w, http.StatusBadRequest, "invalid_request", err.Error(), requestID)
	case errors.Is(err, payroll.ErrPayRunNotFound):
		api.Fail(w, http.StatusNotFound, "pay_run_not_found", "pay run not found", requestID)
	case errors.Is(err, payroll.ErrComputationInProgress):
		api.Fail(w, http.StatusConflict, "computation_in_progress", "a computation for this pay run is already running", requestID)
	case errors.Is(err, payroll.ErrConfigurationMissing):
		api.Fail(w, http.StatusUnprocessableEntity, "configuration_missing", err.Error(), requestID)
	case errors.Is(err, context.DeadlineExceeded):
		api.Fail(w, http.StatusGatewayTimeout, "timeout", "computation timed out", requestID)
	case errors.Is(err, context.Canceled):
		api.Fail(w, http.StatusServiceUnavailable, "cancelled", "request cancelled", requestID)
	case errors.As(err, &persistence):
		requestctx.Logger(r.Context(), h.Log).Error("payroll persistence failed", zap.String("op", persistence.Op), zap.Error(err))
		api.Fail(w, http.StatusServiceUnavailable, "persistence_unavailable", "payroll storage unavailable, retry later", requestID)
	default:
		requestctx.Logger(r.Context(), h.Log).Error("payroll request failed", zap.Error(err))
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
	}
}
