// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Ingestion source label values.
const (
	SourceOTLPHTTP = "otlp_http"
	SourceOTLPGRPC = "otlp_grpc"
	SourceAPI      = "api"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "log_anomaly_events_ingested_total",
			Help: "Total number of log events stored, by ingestion source",
		},
		[]string{"source"},
	)

	// Detection metrics
	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "log_anomaly_anomalies_detected_total",
			Help: "Total number of anomaly records produced by detection runs",
		},
	)

	DetectionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "log_anomaly_detection_runs_total",
			Help: "Total number of detection runs",
		},
		[]string{"status"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "log_anomaly_detection_duration_seconds",
			Help:    "Detection pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
	)

	// Dispatch metrics
	Incidents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "log_anomaly_incidents_total",
			Help: "Total number of incident creation attempts",
		},
		[]string{"status"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "log_anomaly_notifications_total",
			Help: "Total number of incident notifications attempted",
		},
		[]string{"status"},
	)
)

// RecordIngest counts n events stored from source.
func RecordIngest(source string, n int) {
	if n > 0 {
		EventsIngested.WithLabelValues(source).Add(float64(n))
	}
}

// RecordRun records the outcome of one detection pass.
func RecordRun(err error, anomalies int, elapsed time.Duration) {
	if err != nil {
		DetectionRuns.WithLabelValues(StatusFailure).Inc()
		return
	}
	DetectionRuns.WithLabelValues(StatusSuccess).Inc()
	AnomaliesDetected.Add(float64(anomalies))
	DetectionDuration.Observe(elapsed.Seconds())
}

// Status maps an error to a status label value.
func Status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}
