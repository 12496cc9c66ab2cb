package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.IncCounter(EventReplayDetected, map[string]string{"network": "eip155:8453"})
	rec.IncCounter(EventReplayDetected, map[string]string{"network": "eip155:8453"})
	rec.ObserveLatency("submit_payment", 20*time.Millisecond, nil)

	got := testutil.ToFloat64(rec.counters.With(prometheus.Labels{
		"type":    EventReplayDetected,
		"network": "eip155:8453",
	}))
	assert.Equal(t, float64(2), got)
}

func TestPrometheusRecorderDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}
