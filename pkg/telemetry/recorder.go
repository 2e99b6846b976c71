// Package telemetry provides metrics recording and querying for chat
// generation operations.
package telemetry

// Metric names recorded by the chat pipeline.
const (
	MetricResponseTimeMs     = "ai_response_time_ms"
	MetricTimeToFirstTokenMs = "ai_time_to_first_token_ms"
	MetricRequestsTotal      = "ai_requests_total"
	MetricRetriesTotal       = "ai_retries_total"
	MetricCircuitOpenTotal   = "ai_circuit_open_total"
	MetricTokensTotal        = "ai_tokens_total"
)

// Recorder receives named metric observations with string tags. Recording
// must never fail or block the caller.
type Recorder interface {
	RecordMetric(name string, value float64, tags map[string]string)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) RecordMetric(string, float64, map[string]string) {}

var _ Recorder = NopRecorder{}
