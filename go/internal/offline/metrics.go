package offline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting queue metrics
type MetricsCollector interface {
	RecordSendAttempt(table string, success bool, duration time.Duration)
	RecordFlush(sent, retained, deadLettered int, duration time.Duration)
	RecordQueueDepth(pending, failed int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordSendAttempt(string, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordFlush(int, int, int, time.Duration)      {}
func (NoOpMetricsCollector) RecordQueueDepth(int, int)                     {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	sendAttempts  *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	flushRecords  *prometheus.CounterVec
	flushDuration prometheus.Histogram
	pending       prometheus.Gauge
	failed        prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		sendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "offline_queue",
			Name:      "send_attempts_total",
			Help:      "Replay attempts of queued records by table and status.",
		}, []string{"table", "status"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "offline_queue",
			Name:      "send_duration_seconds",
			Help:      "Duration of a single record replay.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table"}),
		flushRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "offline_queue",
			Name:      "flushed_records_total",
			Help:      "Records processed by flush passes by outcome.",
		}, []string{"outcome"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "offline_queue",
			Name:      "flush_duration_seconds",
			Help:      "Duration of a full flush pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "offline_queue",
			Name:      "pending_records",
			Help:      "Records waiting to be replayed.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "offline_queue",
			Name:      "dead_letter_records",
			Help:      "Records moved to the dead-letter list.",
		}),
	}
	reg.MustRegister(m.sendAttempts, m.sendDuration, m.flushRecords, m.flushDuration, m.pending, m.failed)
	return m
}

func (m *PrometheusMetrics) RecordSendAttempt(table string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.sendAttempts.WithLabelValues(table, status).Inc()
	m.sendDuration.WithLabelValues(table).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordFlush(sent, retained, deadLettered int, duration time.Duration) {
	m.flushRecords.WithLabelValues("sent").Add(float64(sent))
	m.flushRecords.WithLabelValues("retained").Add(float64(retained))
	m.flushRecords.WithLabelValues("dead_lettered").Add(float64(deadLettered))
	m.flushDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordQueueDepth(pending, failed int) {
	m.pending.Set(float64(pending))
	m.failed.Set(float64(failed))
}
