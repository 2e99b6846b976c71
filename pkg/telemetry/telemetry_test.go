package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NotPanics(t, func() {
		r.RecordMetric(MetricResponseTimeMs, 120, map[string]string{"model": "m"})
		r.RecordMetric("unknown", 1, nil)
	})
}

func TestTokenCounterCounts(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, 0, tc.CountTokens(""))
	assert.Greater(t, tc.CountTokens("hello world, this is a test sentence"), 4)
}

func TestTokenCounterFallback(t *testing.T) {
	tc := &TokenCounter{}
	assert.Equal(t, 5, tc.CountTokens("12345678901234567890"))
}
