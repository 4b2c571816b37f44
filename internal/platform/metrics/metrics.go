package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests and multiple servers in one
// process do not collide on metric names.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	payRuns        *prometheus.CounterVec
	payRunDuration *prometheus.HistogramVec
	payRunLines    prometheus.Histogram
	payRunWarnings prometheus.Counter
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		httpInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_inflight_requests",
				Help: "Number of HTTP requests currently being served",
			},
		),
		payRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payroll_pay_runs_total",
				Help: "Pay run computations by outcome",
			},
			[]string{"outcome"},
		),
		payRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payroll_pay_run_duration_seconds",
				Help:    "Pay run computation latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		payRunLines: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payroll_pay_run_lines",
				Help:    "Number of lines in computed pay runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		payRunWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payroll_pay_run_warnings_total",
				Help: "Warning lines produced by computed pay runs",
			},
		),
	}
}

func (c *Collector) Record(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	c.httpRequests.With(labels).Inc()
	c.httpDuration.With(labels).Observe(duration.Seconds())
}

func (c *Collector) InFlight(delta float64) {
	c.httpInFlight.Add(delta)
}

// ObservePayRun records one pay run computation. Line and warning counts
// are only meaningful for computed runs.
func (c *Collector) ObservePayRun(outcome string, lines, warnings int, duration time.Duration) {
	c.payRuns.WithLabelValues(outcome).Inc()
	c.payRunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if lines > 0 {
		c.payRunLines.Observe(float64(lines))
	}
	if warnings > 0 {
		c.payRunWarnings.Add(float64(warnings))
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
