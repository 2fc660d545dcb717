// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voiceguard"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Call metrics
	CallsStarted  prometheus.Counter
	CallsEnded    *prometheus.CounterVec
	CallsActive   prometheus.Gauge
	CallDuration  prometheus.Histogram
	CallsRejected *prometheus.CounterVec

	// Segment and risk metrics
	SegmentsDelivered *prometheus.CounterVec
	KeywordMatches    prometheus.Counter
	FinalRiskScore    prometheus.Histogram
	RiskLevelChanges  *prometheus.CounterVec
	Annotations       *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Analysis flow metrics
	AnalysisLatency *prometheus.HistogramVec
	AnalysisErrors  *prometheus.CounterVec

	// Delivery metrics
	MonitorDropped   *prometheus.CounterVec
	WebSocketClients prometheus.Gauge
	WebSocketSent    prometheus.Counter

	// Transport metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetricsWith(prometheus.DefaultRegisterer)

// NewMetricsWith creates all metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of simulated calls started",
		}),
		CallsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total number of calls ended",
		}, []string{"reason", "level"}),
		CallsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently active",
		}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of calls in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}),
		CallsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_rejected_total",
			Help:      "Total number of rejected call starts",
		}, []string{"reason"}),

		SegmentsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_delivered_total",
			Help:      "Total number of transcript segments delivered",
		}, []string{"speaker"}),
		KeywordMatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyword_matches_total",
			Help:      "Total number of scam lexicon matches",
		}),
		FinalRiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "final_risk_score",
			Help:      "Risk score of calls when they end",
			Buckets:   []float64{0, 15, 30, 40, 50, 60, 75, 90, 100},
		}),
		RiskLevelChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_level_changes_total",
			Help:      "Total number of risk level escalations",
		}, []string{"level"}),
		Annotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_total",
			Help:      "Total number of analysis annotations merged into calls",
		}, []string{"source"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		AnalysisLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_seconds",
			Help:      "Latency of AI analysis flows in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider", "flow"}),
		AnalysisErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_errors_total",
			Help:      "Total number of failed AI analysis flow calls",
		}, []string{"provider", "flow"}),

		MonitorDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_dropped_total",
			Help:      "Total number of call events dropped by the monitor",
		}, []string{"reason"}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Number of connected snapshot stream clients",
		}),
		WebSocketSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_sent_total",
			Help:      "Total number of snapshot messages sent to stream clients",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP API requests",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		GRPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests",
		}, []string{"method", "code"}),
	}
}

// RecordCallStart records a call starting.
func (m *Metrics) RecordCallStart() {
	m.CallsStarted.Inc()
	m.CallsActive.Inc()
}

// RecordCallEnd records a call ending with its final score.
func (m *Metrics) RecordCallEnd(reason, level string, finalScore int, durationSeconds float64) {
	m.CallsActive.Dec()
	m.CallsEnded.WithLabelValues(reason, level).Inc()
	m.FinalRiskScore.Observe(float64(finalScore))
	m.CallDuration.Observe(durationSeconds)
}

// RecordCallRejected records a refused call start.
func (m *Metrics) RecordCallRejected(reason string) {
	m.CallsRejected.WithLabelValues(reason).Inc()
}

// RecordSegment records a delivered segment and its keyword matches.
func (m *Metrics) RecordSegment(speaker string, matches int) {
	m.SegmentsDelivered.WithLabelValues(speaker).Inc()
	m.KeywordMatches.Add(float64(matches))
}

// RecordLevelChange records a call reaching a new risk level.
func (m *Metrics) RecordLevelChange(level string) {
	m.RiskLevelChanges.WithLabelValues(level).Inc()
}

// RecordAnnotation records an analysis result merged into a call.
func (m *Metrics) RecordAnnotation(source string) {
	m.Annotations.WithLabelValues(source).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordAnalysis records an analysis flow call.
func (m *Metrics) RecordAnalysis(provider, flow string, err error, latencySeconds float64) {
	m.AnalysisLatency.WithLabelValues(provider, flow).Observe(latencySeconds)
	if err != nil {
		m.AnalysisErrors.WithLabelValues(provider, flow).Inc()
	}
}

// RecordDropped records an event the monitor could not deliver.
func (m *Metrics) RecordDropped(reason string) {
	m.MonitorDropped.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(latencySeconds)
}

// RecordGRPCRequest records a served gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
