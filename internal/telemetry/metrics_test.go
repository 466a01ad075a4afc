package telemetry

import (
	"testing"

	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeIsIdempotent(t *testing.T) {
	a := Initialize()
	b := Initialize()
	assert.Same(t, a, b)
	assert.Same(t, a, Get())
}

func TestCacheHitRatio(t *testing.T) {
	m := Get()

	m.RecordCacheHit("pipeline")
	m.RecordCacheHit("pipeline")
	m.RecordCacheMiss("pipeline")

	var gauge io_prometheus_client.Metric
	require.NoError(t, m.CacheHitRatio.Write(&gauge))
	ratio := gauge.GetGauge().GetValue()
	assert.Greater(t, ratio, 0.0)
	assert.LessOrEqual(t, ratio, 1.0)
}

func TestRecalcTimerRecords(t *testing.T) {
	m := Get()
	timer := m.StartRecalcTimer("sweep")
	timer.Stop("applied")

	hist, err := m.RecalcDuration.GetMetricWithLabelValues("sweep", "applied")
	require.NoError(t, err)

	var metric io_prometheus_client.Metric
	require.NoError(t, hist.(interface {
		Write(*io_prometheus_client.Metric) error
	}).Write(&metric))
	assert.GreaterOrEqual(t, metric.GetHistogram().GetSampleCount(), uint64(1))
}
