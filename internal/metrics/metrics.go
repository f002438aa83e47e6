package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctv_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cctv_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Session Metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cctv_sessions_active",
			Help: "Number of currently registered stream sessions",
		},
	)

	SessionStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctv_session_starts_total",
			Help: "Total number of successful session starts",
		},
		[]string{"output_mode", "quality"},
	)

	SessionStartFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctv_session_start_failures_total",
			Help: "Total number of failed session starts",
		},
		[]string{"kind"},
	)

	SessionCrashesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cctv_session_crashes_total",
			Help: "Total number of transcoding process crashes",
		},
	)

	SessionRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cctv_session_restarts_total",
			Help: "Total number of settings-triggered session restarts",
		},
	)

	PushFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cctv_push_fallbacks_total",
			Help: "Total number of push-transport starts that fell back to HLS",
		},
	)

	SessionStartDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cctv_session_start_duration_seconds",
			Help:    "Time from start request to confirmed output",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		},
	)

	// Viewer Metrics
	ViewersCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cctv_viewers_current",
			Help: "Number of currently admitted viewers across all sessions",
		},
	)

	ViewerJoinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cctv_viewer_joins_total",
			Help: "Total number of accepted viewer joins",
		},
	)

	ViewerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctv_viewer_rejections_total",
			Help: "Total number of rejected viewer joins",
		},
		[]string{"reason"},
	)

	// Fan-out Metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctv_events_published_total",
			Help: "Total number of session events published",
		},
		[]string{"kind"},
	)
)
