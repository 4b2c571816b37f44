package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"routepay/internal/auth"
	"routepay/internal/domain/payroll"
	"routepay/internal/domain/payroll/payrolltest"
	"routepay/internal/platform/config"
	"routepay/internal/platform/jobs"
	"routepay/internal/platform/metrics"
	payrollhandler "routepay/internal/transport/http/handlers/payroll"
)

type noJobs struct{}

func (noJobs) Enqueue(context.Context, string, any, jobs.RunFunc) (string, error) {
	return "", jobs.ErrQueueFull
}

func (noJobs) Get(context.Context, string) (jobs.Run, error) {
	return jobs.Run{}, jobs.ErrNotFound
}

func testConfig() config.Config {
	return config.Config{
		Environment:        "development",
		JWTSecret:          "router-secret",
		MaxBodyBytes:       1 << 20,
		RateLimitPerMinute: 60,
		MetricsEnabled:     true,
	}
}

func newTestRouter(t *testing.T, ready func(context.Context) error) (http.Handler, *metrics.Collector) {
	t.Helper()
	collector := metrics.New()
	svc := payroll.NewService(payrolltest.New(), zap.NewNop(), payroll.WithRecorder(collector))
	return NewRouter(Deps{
		Config:  testConfig(),
		Log:     zap.NewNop(),
		Metrics: collector,
		Payroll: payrollhandler.NewHandler(svc, noJobs{}, auth.StaticPermissions{}, zap.NewNop()),
		Ready:   ready,
	}), collector
}

func TestHealthAndReadiness(t *testing.T) {
	router, _ := newTestRouter(t, func(context.Context) error { return errors.New("db down") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nowhere", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"not_found"`)
}

func TestComputeThroughRouterRecordsMetrics(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	signed, err := auth.GenerateToken("router-secret", auth.Claims{UserID: "clerk-1", CompanyID: "company-1", Role: auth.RolePayrollClerk}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/pay-runs/compute",
		strings.NewReader(`{"driverId":"driver-1","periodStart":"2026-03-02","periodEnd":"2026-03-08"}`))
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `payroll_pay_runs_total{outcome="config_missing"} 1`)
	assert.Contains(t, body, `route="/api/v1/payroll/pay-runs/compute",status="422"`)
}
