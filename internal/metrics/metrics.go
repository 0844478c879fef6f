// Package metrics exposes Prometheus instrumentation for the quote pipeline.
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

const namespace = "xbridge"

// Metrics holds the collectors of one process. Each instance owns its
// registry so tests and embedded engines do not collide.
type Metrics struct {
	registry *prometheus.Registry

	QuoteFetches      *prometheus.CounterVec
	FetchLatency      *prometheus.HistogramVec
	QuotesPerBatch    prometheus.Histogram
	RefreshCount      prometheus.Gauge
	ValidationBlocks  *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPLatency       *prometheus.HistogramVec
	LastRefreshUnixMs prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QuoteFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_fetches_total",
			Help:      "Quote fetches by provider and outcome",
		}, []string{"provider", "status"}),
		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of upstream fetches by source",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		QuotesPerBatch: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quotes_per_batch",
			Help:      "Number of quotes in each refreshed batch",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		RefreshCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quotes_refresh_count",
			Help:      "Refresh count of the current quote request",
		}),
		ValidationBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_blocks_total",
			Help:      "Submission decisions blocked, by reason",
		}, []string{"reason"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Outbound HTTP requests by host and status code",
		}, []string{"host", "code"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Outbound HTTP request latency by host",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		LastRefreshUnixMs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quotes_last_fetched_ms",
			Help:      "Unix time in milliseconds of the last successful quote fetch",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFetch counts one provider fetch. A nil receiver is a no-op so
// callers can run without metrics.
func (m *Metrics) RecordFetch(provider string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.QuoteFetches.WithLabelValues(provider, status).Inc()
	m.FetchLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordBatch(quotes int, refreshCount int, fetchedAtMs int64) {
	if m == nil {
		return
	}
	m.QuotesPerBatch.Observe(float64(quotes))
	m.RefreshCount.Set(float64(refreshCount))
	if fetchedAtMs > 0 {
		m.LastRefreshUnixMs.Set(float64(fetchedAtMs))
	}
}

func (m *Metrics) RecordBlocked(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.ValidationBlocks.WithLabelValues(reason).Inc()
}

// ObserveHTTP matches the httpx observer signature.
func (m *Metrics) ObserveHTTP(host string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.HTTPRequests.WithLabelValues(host, code).Inc()
	m.HTTPLatency.WithLabelValues(host).Observe(elapsed.Seconds())
}
