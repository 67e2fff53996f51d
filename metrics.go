package main

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"runcard/pkg/ocr"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runcard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runcard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Extraction metrics
	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runcard_extractions_total",
			Help: "Total number of screenshot extractions",
		},
		[]string{"kind", "status"}, // status: ok, cached, error
	)

	extractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runcard_extraction_duration_seconds",
			Help:    "Extraction duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"kind"},
	)

	recognitionPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runcard_recognition_passes_total",
			Help: "Recognition passes by label and outcome",
		},
		[]string{"pass", "outcome"},
	)

	misreadCorrectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runcard_misread_corrections_total",
			Help: "Distances rewritten by the leading-digit guard",
		},
	)
)

// metricsMiddleware records request counts and latencies per route template.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// passMetrics feeds pipeline events into Prometheus.
type passMetrics struct{}

func (passMetrics) PassFinished(label string, outcome ocr.PassOutcome, _ time.Duration) {
	recognitionPassesTotal.WithLabelValues(label, string(outcome)).Inc()
}

func (passMetrics) MisreadCorrected(_, _ float64) {
	misreadCorrectionsTotal.Inc()
}

func observeExtraction(kind ocr.RecordKind, status string, elapsed time.Duration) {
	extractionsTotal.WithLabelValues(string(kind), status).Inc()
	if status != "cached" {
		extractionDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}
}
