package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics covers the statistics publisher's broker connection. All
// methods are no-ops on a nil receiver.
type MQTTMetrics struct {
	connected      prometheus.Gauge
	lastConnect    prometheus.Gauge
	publishes      *prometheus.CounterVec
	reconnects     prometheus.Counter
	payloadSize    prometheus.Histogram
	publishLatency prometheus.Histogram
}

// NewMQTTMetrics creates and registers the MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "report_mqtt_connected",
		Help: "1 while connected to the MQTT broker",
	})

	m.lastConnect = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "report_mqtt_last_connect_time_seconds",
		Help: "Unix time of the last successful broker connection",
	})

	m.publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_mqtt_publish_total",
		Help: "Statistics messages by publish result",
	}, []string{"result"}) // success, timeout, error, disconnected

	m.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_mqtt_reconnect_attempts_total",
		Help: "Broker reconnection attempts",
	})

	m.payloadSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_mqtt_payload_size_bytes",
		Help:    "Size of published statistics payloads",
		Buckets: prometheus.ExponentialBuckets(64, 2, 10),
	})

	m.publishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_mqtt_publish_latency_seconds",
		Help:    "Time until the broker acknowledged a publish",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
}

// SetConnected records a connection state change.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		m.lastConnect.SetToCurrentTime()
		return
	}
	m.connected.Set(0)
}

// RecordPublish records one publish attempt.
func (m *MQTTMetrics) RecordPublish(result string, size int, latency time.Duration) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
	if result == "success" {
		m.payloadSize.Observe(float64(size))
		m.publishLatency.Observe(latency.Seconds())
	}
}

// RecordReconnect counts a reconnection attempt.
func (m *MQTTMetrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connected.Describe(ch)
	m.lastConnect.Describe(ch)
	m.publishes.Describe(ch)
	m.reconnects.Describe(ch)
	m.payloadSize.Describe(ch)
	m.publishLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connected.Collect(ch)
	m.lastConnect.Collect(ch)
	m.publishes.Collect(ch)
	m.reconnects.Collect(ch)
	m.payloadSize.Collect(ch)
	m.publishLatency.Collect(ch)
}
