package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagelens_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagelens_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Parsing metrics
	parseRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagelens_parse_requests_total",
			Help: "Total number of layout parsing requests",
		},
		[]string{"file_type", "status"},
	)

	parseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagelens_parse_duration_seconds",
			Help:    "Layout parsing duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"file_type"},
	)

	parsePagesProcessed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagelens_parse_pages_processed",
			Help:    "Pages processed per request",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
	)

	parseRegionsDetected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagelens_parse_regions_detected",
			Help:    "Number of layout regions per page",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"file_type"},
	)

	// Auth and rate limiting metrics
	authFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagelens_auth_failures_total",
			Help: "Total number of rejected authentication attempts",
		},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagelens_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagelens_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagelens_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"},
	)
)
