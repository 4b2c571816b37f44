package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"routepay/internal/auth"
)

const adjustmentPath = "/api/v1/payroll/periods/p1/drivers/d1/adjustments"

func idempotentRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, adjustmentPath, nil)
	req.Header.Set("Idempotency-Key", key)
	return req.WithContext(WithUser(req.Context(), auth.UserContext{UserID: "u1", CompanyID: "c1"}))
}

func storedPayload(t *testing.T, status int, body string) string {
	t.Helper()
	payload, err := json.Marshal(idempotentResponse{Status: status, Body: []byte(body)})
	require.NoError(t, err)
	return string(payload)
}

func TestIdempotencyStoresFirstResponse(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cacheKey := "idemp:" + adjustmentPath + ":user:c1:u1:k1"
	mock.ExpectGet(cacheKey).RedisNil()
	mock.ExpectSetNX(cacheKey+":lock", "processing", idempotencyLockTTL).SetVal(true)
	mock.ExpectSet(cacheKey, storedPayload(t, http.StatusCreated, `{"id":"adj-1"}`), time.Hour).SetVal("OK")
	mock.ExpectDel(cacheKey + ":lock").SetVal(1)

	calls := 0
	handler := Idempotency(rdb, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"adj-1"}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest("k1"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cacheKey := "idemp:" + adjustmentPath + ":user:c1:u1:k1"
	mock.ExpectGet(cacheKey).SetVal(storedPayload(t, http.StatusCreated, `{"id":"adj-1"}`))

	handler := Idempotency(rdb, time.Hour, zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for a replayed request")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest("k1"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":"adj-1"}`, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cacheKey := "idemp:" + adjustmentPath + ":user:c1:u1:k1"
	mock.ExpectGet(cacheKey).RedisNil()
	mock.ExpectSetNX(cacheKey+":lock", "processing", idempotencyLockTTL).SetVal(false)

	handler := Idempotency(rdb, time.Hour, zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is locked")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest("k1"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cacheKey := "idemp:" + adjustmentPath + ":user:c1:u1:k1"
	mock.ExpectGet(cacheKey).RedisNil()
	mock.ExpectSetNX(cacheKey+":lock", "processing", idempotencyLockTTL).SetVal(true)
	mock.ExpectDel(cacheKey + ":lock").SetVal(1)

	handler := Idempotency(rdb, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest("k1"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyPassThroughWithoutKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	handler := Idempotency(rdb, time.Hour, zap.NewNop())(noContent())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, adjustmentPath, nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
