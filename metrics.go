package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics, labelled by the process serving them (api or gateway).
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfgate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"component", "method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfgate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component", "method", "route"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfgate_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
		[]string{"component"},
	)

	panicRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfgate_panic_recoveries_total",
			Help: "Total number of panics recovered in HTTP handlers",
		},
		[]string{"component"},
	)

	gatewayUpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfgate_gateway_upstream_errors_total",
			Help: "Total number of failed calls to downstream services",
		},
		[]string{"route"},
	)
)

const (
	componentAPI     = "api"
	componentGateway = "gateway"
)

// observeRequest records the RED metrics of a finished request.
func observeRequest(component, method, route string, status int, start time.Time) {
	httpRequestsTotal.WithLabelValues(component, method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(component, method, route).Observe(time.Since(start).Seconds())
}

// MetricsHandler exposes the default prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
