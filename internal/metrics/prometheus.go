package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the practice service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted   prometheus.Counter
	ActiveSessions    prometheus.Gauge
	SessionsDelivered prometheus.Counter
	SessionFailures   *prometheus.CounterVec

	// Ingest metrics
	FragmentsReceived prometheus.Counter
	FragmentSize      prometheus.Histogram

	// Pipeline metrics
	StageDuration *prometheus.HistogramVec
	Accuracy      prometheus.Histogram

	// Maintenance
	SweptEntries prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "practice_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "practice_active_sessions",
			Help: "Current number of sessions held in memory",
		}),
		SessionsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "practice_sessions_delivered_total",
			Help: "Total number of sessions that delivered a summary",
		}),
		SessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "practice_session_failures_total",
			Help: "Total number of failed sessions by stage and failure kind",
		}, []string{"stage", "kind"}),

		FragmentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "practice_fragments_received_total",
			Help: "Total number of audio fragments stored",
		}),
		FragmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "practice_fragment_size_bytes",
			Help:    "Size of stored audio fragments in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 12), // 256B to ~512KB
		}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "practice_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"stage"}),
		Accuracy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "practice_accuracy_percent",
			Help:    "Accuracy of delivered summaries",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),

		SweptEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "practice_storage_swept_total",
			Help: "Total number of stale storage entries removed",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "practice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "practice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordSessionStarted counts a new session and raises the active gauge.
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionReleased lowers the active gauge.
func (m *Metrics) RecordSessionReleased() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordFragment records one stored fragment.
func (m *Metrics) RecordFragment(sizeBytes int) {
	if m == nil {
		return
	}
	m.FragmentsReceived.Inc()
	m.FragmentSize.Observe(float64(sizeBytes))
}

// RecordStage observes how long a pipeline stage ran.
func (m *Metrics) RecordStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordDelivered counts a delivered summary.
func (m *Metrics) RecordDelivered(accuracy float64) {
	if m == nil {
		return
	}
	m.SessionsDelivered.Inc()
	m.Accuracy.Observe(accuracy)
}

// RecordFailure counts a failed session.
func (m *Metrics) RecordFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.SessionFailures.WithLabelValues(stage, kind).Inc()
}

// RecordSwept counts removed storage entries.
func (m *Metrics) RecordSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptEntries.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
