package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"routepay/internal/requestctx"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wrote {
		s.wrote = true
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Logger writes one access log entry per request and stores a request
// scoped logger carrying the request id in the context.
func Logger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With(zap.String("requestId", GetRequestID(r.Context())))
			recorder := newStatusRecorder(w)
			ctx := requestctx.WithLogger(r.Context(), reqLog)
			next.ServeHTTP(recorder, r.WithContext(ctx))

			level := zapcore.InfoLevel
			switch {
			case recorder.status >= 500:
				level = zapcore.ErrorLevel
			case recorder.status >= 400:
				level = zapcore.WarnLevel
			}
			reqLog.Log(level, "http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.Int("bytes", recorder.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("remoteIp", clientIPKey(r)),
			)
		})
	}
}
