package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureMetricsRecord(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewCaptureMetrics(registry)
	require.NoError(t, err)

	m.RecordPacket("stream0", 100)
	m.RecordPacket("stream0", 50)
	m.RecordUnit("stream0", "dropped")
	m.SetRates("stream0", 2048, 25)
	m.RecordSnapshot("success", 4096, 0.002)
	m.RecordSnapshot("rename", 0, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.packetsTotal.WithLabelValues("stream0")), 0)
	assert.InDelta(t, 150, testutil.ToFloat64(m.bytesTotal.WithLabelValues("stream0")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.unitsTotal.WithLabelValues("stream0", "dropped")), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(m.bitrateGauge.WithLabelValues("stream0")), 0)
	assert.InDelta(t, 25, testutil.ToFloat64(m.fpsGauge.WithLabelValues("stream0")), 0)
	assert.InDelta(t, 4096, testutil.ToFloat64(m.snapshotBytes), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.snapshotsTotal.WithLabelValues("rename")), 0)

	count, err := testutil.GatherAndCount(registry, "capture_snapshot_publish_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewCaptureMetrics(registry)
	require.NoError(t, err)
	_, err = NewCaptureMetrics(registry)
	require.Error(t, err)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(registry)
	require.NoError(t, err)

	m.SetConnected(true)
	m.RecordPublish("success", 256, 3*time.Millisecond)
	m.RecordPublish("timeout", 0, 0)
	m.RecordReconnect()

	assert.InDelta(t, 1, testutil.ToFloat64(m.connected), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.publishes.WithLabelValues("timeout")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reconnects), 0)

	var nilMetrics *MQTTMetrics
	assert.NotPanics(t, func() {
		nilMetrics.SetConnected(false)
		nilMetrics.RecordPublish("error", 0, 0)
		nilMetrics.RecordReconnect()
	})
}
