package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type MetricsRecorder interface {
	Record(method, route string, status int, duration time.Duration)
	InFlight(delta float64)
}

// Metrics labels requests with the matched chi route pattern to keep label
// cardinality bounded.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder.InFlight(1)
			defer recorder.InFlight(-1)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			recorder.Record(r.Method, route, rec.status, time.Since(start))
		})
	}
}
