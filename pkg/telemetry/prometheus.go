package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"runsheet/pkg/logx"
)

// PrometheusRecorder implements the Recorder interface using Prometheus
// metrics. Unknown metric names are logged at debug level and dropped.
type PrometheusRecorder struct {
	responseTime  *prometheus.HistogramVec
	timeToFirst   *prometheus.HistogramVec
	requestsTotal *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	circuitOpen   *prometheus.CounterVec
	tokensTotal   *prometheus.CounterVec
	logger        *logx.Logger
}

// NewPrometheusRecorder creates a Prometheus-based metrics recorder and
// registers its collectors with the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		responseTime: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricResponseTimeMs,
				Help:    "End-to-end AI generation time in milliseconds",
				Buckets: prometheus.ExponentialBuckets(50, 2, 12),
			},
			[]string{"model", "mode", "status"},
		),
		timeToFirst: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricTimeToFirstTokenMs,
				Help:    "Time from request start to first streamed token in milliseconds",
				Buckets: prometheus.ExponentialBuckets(25, 2, 12),
			},
			[]string{"model", "mode"},
		),
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRequestsTotal,
				Help: "Total number of AI generation requests by model, mode, and status",
			},
			[]string{"model", "mode", "status", "error_type"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetriesTotal,
				Help: "Total number of AI generation retry attempts",
			},
			[]string{"model", "reason"},
		),
		circuitOpen: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCircuitOpenTotal,
				Help: "Total number of requests rejected by an open circuit breaker",
			},
			[]string{"breaker"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTokensTotal,
				Help: "Total number of tokens used in AI requests",
			},
			[]string{"model", "type"},
		),
		logger: logx.NewLogger("telemetry"),
	}
}

// RecordMetric dispatches an observation to the matching collector.
func (p *PrometheusRecorder) RecordMetric(name string, value float64, tags map[string]string) {
	tag := func(key string) string { return tags[key] }

	switch name {
	case MetricResponseTimeMs:
		p.responseTime.WithLabelValues(tag("model"), tag("mode"), tag("status")).Observe(value)
	case MetricTimeToFirstTokenMs:
		p.timeToFirst.WithLabelValues(tag("model"), tag("mode")).Observe(value)
	case MetricRequestsTotal:
		p.requestsTotal.WithLabelValues(tag("model"), tag("mode"), tag("status"), tag("error_type")).Add(value)
	case MetricRetriesTotal:
		p.retriesTotal.WithLabelValues(tag("model"), tag("reason")).Add(value)
	case MetricCircuitOpenTotal:
		p.circuitOpen.WithLabelValues(tag("breaker")).Add(value)
	case MetricTokensTotal:
		p.tokensTotal.WithLabelValues(tag("model"), tag("type")).Add(value)
	default:
		p.logger.Debug("unknown metric %s dropped", name)
	}
}

var _ Recorder = (*PrometheusRecorder)(nil)
