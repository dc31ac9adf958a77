// Package metrics exposes the HTTP-level Prometheus collectors of the service.
// Crawl progress metrics live in the progress PrometheusSink.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	streamClients              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		// Crawl triggers run synchronously, so the upper buckets reach minutes.
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120, 600},
			},
			[]string{"method", "route"},
		)

		streamClients = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_event_stream_clients",
				Help: "Number of connected progress stream clients.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StreamOpened records a progress stream client connecting.
func StreamOpened() {
	if streamClients != nil {
		streamClients.Inc()
	}
}

// StreamClosed records a progress stream client leaving.
func StreamClosed() {
	if streamClients != nil {
		streamClients.Dec()
	}
}
