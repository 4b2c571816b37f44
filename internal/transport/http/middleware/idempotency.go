package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"routepay/internal/requestctx"
	"routepay/internal/transport/http/api"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	idempotencyLockTTL = 30 * time.Second
)

type idempotentResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

type bodyRecorder struct {
	*statusRecorder
	buf bytes.Buffer
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.buf.Write(p)
	return b.statusRecorder.Write(p)
}

// Idempotency replays the stored response for a repeated POST carrying the
// same Idempotency-Key from the same caller. A concurrent duplicate gets 409
// while the first one is still running. Server errors are not stored so the
// client can retry them.
func Idempotency(rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if rdb == nil || key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			reqLog := requestctx.Logger(ctx, log)
			cacheKey := "idemp:" + r.URL.Path + ":" + actorOrIPKey(r) + ":" + key
			lockKey := cacheKey + ":lock"

			cached, err := rdb.Get(ctx, cacheKey).Bytes()
			switch {
			case err == nil:
				var stored idempotentResponse
				if err := json.Unmarshal(cached, &stored); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(stored.Status)
					_, _ = w.Write(stored.Body)
					return
				}
				reqLog.Warn("idempotency cache entry unreadable", zap.String("key", cacheKey))
			case !errors.Is(err, redis.Nil):
				reqLog.Warn("idempotency lookup failed", zap.Error(err))
				api.Fail(w, http.StatusServiceUnavailable, "idempotency_unavailable", "idempotency store unavailable", GetRequestID(ctx))
				return
			}

			isNew, err := rdb.SetNX(ctx, lockKey, "processing", idempotencyLockTTL).Result()
			if err != nil {
				reqLog.Warn("idempotency lock failed", zap.Error(err))
				api.Fail(w, http.StatusServiceUnavailable, "idempotency_unavailable", "idempotency store unavailable", GetRequestID(ctx))
				return
			}
			if !isNew {
				api.Fail(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is still being processed", GetRequestID(ctx))
				return
			}

			rec := &bodyRecorder{statusRecorder: newStatusRecorder(w)}
			next.ServeHTTP(rec, r)

			if rec.status < http.StatusInternalServerError {
				payload, err := json.Marshal(idempotentResponse{Status: rec.status, Body: rec.buf.Bytes()})
				if err == nil {
					err = rdb.Set(ctx, cacheKey, string(payload), ttl).Err()
				}
				if err != nil {
					reqLog.Warn("idempotency store failed", zap.String("key", cacheKey), zap.Error(err))
				}
			}
			if err := rdb.Del(ctx, lockKey).Err(); err != nil {
				reqLog.Warn("idempotency unlock failed", zap.String("key", lockKey), zap.Error(err))
			}
		})
	}
}
