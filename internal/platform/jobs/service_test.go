package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestService(t *testing.T, queueSize int) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	svc := New(mock, queueSize, zap.NewNop())
	svc.newID = func() string { return "job-1" }
	return svc, mock
}

func TestRunNowRecordsCompletion(t *testing.T) {
	svc, mock := newTestService(t, 1)
	mock.ExpectExec("INSERT INTO job_runs").
		WithArgs("job-1", "payroll.compute_period", StatusRunning, []byte(`{"companyId":"c1"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE job_runs SET status").
		WithArgs(StatusRunning, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(StatusCompleted, []byte(`{"computed":2}`), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	details, err := svc.RunNow(context.Background(), "payroll.compute_period", map[string]string{"companyId": "c1"},
		func(context.Context) (any, error) {
			return map[string]int{"computed": 2}, nil
		})

	require.NoError(t, err)
	assert.Equal(t, map[string]int{"computed": 2}, details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunNowRecordsFailure(t *testing.T) {
	svc, mock := newTestService(t, 1)
	mock.ExpectExec("INSERT INTO job_runs").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE job_runs SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(StatusFailed, []byte(`{"error":"boom"}`), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	_, err := svc.RunNow(context.Background(), "t", nil, func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	assert.EqualError(t, err, "boom")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	svc, mock := newTestService(t, 1)
	noop := func(context.Context) (any, error) { return nil, nil }
	mock.ExpectExec("INSERT INTO job_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO job_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(StatusFailed, []byte(`{"error":"job queue full"}`), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := svc.Enqueue(context.Background(), "t", nil, noop)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	_, err = svc.Enqueue(context.Background(), "t", nil, noop)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRunsQueuedJobs(t *testing.T) {
	svc, mock := newTestService(t, 4)
	mock.ExpectExec("INSERT INTO job_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE job_runs SET status").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(StatusCompleted, []byte(`"done"`), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ran := make(chan struct{})
	_, err := svc.Enqueue(ctx, "t", nil, func(context.Context) (any, error) {
		close(ran)
		return "done", nil
	})
	require.NoError(t, err)

	svc.Start(ctx)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued job never ran")
	}
	assert.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, 2*time.Second, 10*time.Millisecond)
}

func TestGet(t *testing.T) {
	svc, mock := newTestService(t, 1)
	started := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM job_runs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "job_type", "status", "payload_json", "details_json", "started_at", "completed_at"}).
			AddRow("job-1", "t", StatusQueued, json.RawMessage(`{}`), json.RawMessage(`{}`), started, (*time.Time)(nil)))
	mock.ExpectQuery("FROM job_runs").
		WithArgs("job-2").
		WillReturnError(pgx.ErrNoRows)

	run, err := svc.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, run.Status)
	assert.Nil(t, run.CompletedAt)

	_, err = svc.Get(context.Background(), "job-2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelledJobStillRecordsFinalStatus(t *testing.T) {
	svc, mock := newTestService(t, 1)
	core, logs := observer.New(zap.WarnLevel)
	svc.log = zap.New(core)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock.ExpectExec("INSERT INTO job_runs").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE job_runs SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(StatusFailed, []byte(`{"error":"context canceled"}`), "job-1").
		WillDelayFor(20 * time.Millisecond).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	_, err := svc.RunNow(ctx, "payroll.compute_period", nil, func(ctx context.Context) (any, error) {
		cancel()
		return nil, ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Zero(t, logs.FilterMessage("job run update failed").Len())
}
