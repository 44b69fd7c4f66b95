package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics contains Prometheus metrics for the capture pipeline
type CaptureMetrics struct {
	registry *prometheus.Registry

	packetsTotal   *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	unitsTotal     *prometheus.CounterVec
	pollsTotal     *prometheus.CounterVec
	bitrateGauge   *prometheus.GaugeVec
	fpsGauge       *prometheus.GaugeVec
	snapshotsTotal *prometheus.CounterVec
	snapshotBytes  prometheus.Gauge
	snapshotTime   prometheus.Histogram
	audioFrames    *prometheus.CounterVec
	overlayTotal   *prometheus.CounterVec
	lifecycleTotal *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
}

// NewCaptureMetrics creates and registers capture metrics
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	m.packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_packets_total",
			Help: "Encoded packets extracted from encoder channels",
		},
		[]string{"stream"},
	)

	m.bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_bytes_total",
			Help: "Payload bytes extracted from encoder channels",
		},
		[]string{"stream"},
	)

	m.unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_access_units_total",
			Help: "Access units by sink outcome",
		},
		[]string{"stream", "outcome"}, // enqueued, dropped, gated
	)

	m.pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_encoder_polls_total",
			Help: "Encoder polls by result",
		},
		[]string{"stream", "result"}, // ok, timeout, error
	)

	m.bitrateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capture_bitrate_kbps",
			Help: "Bitrate of the last one second window",
		},
		[]string{"stream"},
	)

	m.fpsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capture_fps",
			Help: "Frame rate of the last one second window",
		},
		[]string{"stream"},
	)

	m.snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_snapshot_publish_total",
			Help: "Snapshot publish attempts by status",
		},
		[]string{"status"}, // success, open, lock, write, sync, rename
	)

	m.snapshotBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_snapshot_size_bytes",
			Help: "Size of the last published snapshot",
		},
	)

	m.snapshotTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capture_snapshot_publish_duration_seconds",
			Help:    "Time to write, sync and rename a snapshot",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	m.audioFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_audio_frames_total",
			Help: "Audio frames by delivery status",
		},
		[]string{"status"}, // accepted, clogged, error
	)

	m.overlayTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_overlay_refresh_total",
			Help: "Overlay refreshes by action",
		},
		[]string{"stream", "action"}, // start, update
	)

	m.lifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_lifecycle_transitions_total",
			Help: "Controller lifecycle transitions",
		},
		[]string{"transition"}, // start, stop, start_failed
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_errors_total",
			Help: "Errors by component and category",
		},
		[]string{"component", "category"},
	)
}

// RecordPacket implements CaptureRecorder
func (m *CaptureMetrics) RecordPacket(stream string, n int) {
	m.packetsTotal.WithLabelValues(stream).Inc()
	m.bytesTotal.WithLabelValues(stream).Add(float64(n))
}

// RecordUnit implements CaptureRecorder
func (m *CaptureMetrics) RecordUnit(stream, outcome string) {
	m.unitsTotal.WithLabelValues(stream, outcome).Inc()
}

// RecordPoll implements CaptureRecorder
func (m *CaptureMetrics) RecordPoll(stream, result string) {
	m.pollsTotal.WithLabelValues(stream, result).Inc()
}

// SetRates implements CaptureRecorder
func (m *CaptureMetrics) SetRates(stream string, kbps, fps uint32) {
	m.bitrateGauge.WithLabelValues(stream).Set(float64(kbps))
	m.fpsGauge.WithLabelValues(stream).Set(float64(fps))
}

// RecordSnapshot implements CaptureRecorder
func (m *CaptureMetrics) RecordSnapshot(status string, bytes int64, seconds float64) {
	m.snapshotsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.snapshotBytes.Set(float64(bytes))
		m.snapshotTime.Observe(seconds)
	}
}

// RecordAudioFrame implements CaptureRecorder
func (m *CaptureMetrics) RecordAudioFrame(status string) {
	m.audioFrames.WithLabelValues(status).Inc()
}

// RecordOverlay implements CaptureRecorder
func (m *CaptureMetrics) RecordOverlay(stream, action string) {
	m.overlayTotal.WithLabelValues(stream, action).Inc()
}

// RecordLifecycle implements CaptureRecorder
func (m *CaptureMetrics) RecordLifecycle(transition string) {
	m.lifecycleTotal.WithLabelValues(transition).Inc()
}

// RecordError implements CaptureRecorder
func (m *CaptureMetrics) RecordError(component, category string) {
	m.errorsTotal.WithLabelValues(component, category).Inc()
}

// Describe implements the prometheus.Collector interface
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.packetsTotal.Describe(ch)
	m.bytesTotal.Describe(ch)
	m.unitsTotal.Describe(ch)
	m.pollsTotal.Describe(ch)
	m.bitrateGauge.Describe(ch)
	m.fpsGauge.Describe(ch)
	m.snapshotsTotal.Describe(ch)
	m.snapshotBytes.Describe(ch)
	m.snapshotTime.Describe(ch)
	m.audioFrames.Describe(ch)
	m.overlayTotal.Describe(ch)
	m.lifecycleTotal.Describe(ch)
	m.errorsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	m.packetsTotal.Collect(ch)
	m.bytesTotal.Collect(ch)
	m.unitsTotal.Collect(ch)
	m.pollsTotal.Collect(ch)
	m.bitrateGauge.Collect(ch)
	m.fpsGauge.Collect(ch)
	m.snapshotsTotal.Collect(ch)
	m.snapshotBytes.Collect(ch)
	m.snapshotTime.Collect(ch)
	m.audioFrames.Collect(ch)
	m.overlayTotal.Collect(ch)
	m.lifecycleTotal.Collect(ch)
	m.errorsTotal.Collect(ch)
}

var _ CaptureRecorder = (*CaptureMetrics)(nil)
