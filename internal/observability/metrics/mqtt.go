package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics tracks the event publisher.
type MQTTMetrics struct {
	connectionStatus prometheus.Gauge
	messagesTotal    *prometheus.CounterVec
	publishDuration  prometheus.Histogram
	messageSize      prometheus.Histogram
}

// NewMQTTMetrics creates and registers MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connection_status",
			Help: "1 when connected to the broker",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_messages_total",
			Help: "Messages published, by status",
		}, []string{"status"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_publish_duration_seconds",
			Help:    "Time taken to publish a message",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		}),
		messageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_message_size_bytes",
			Help:    "Size of published payloads",
			Buckets: prometheus.ExponentialBuckets(64, BucketFactor2, BucketCount12),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connectionStatus.Describe(ch)
	m.messagesTotal.Describe(ch)
	m.publishDuration.Describe(ch)
	m.messageSize.Describe(ch)
}

// Collect implements the Collector interface
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connectionStatus.Collect(ch)
	m.messagesTotal.Collect(ch)
	m.publishDuration.Collect(ch)
	m.messageSize.Collect(ch)
}

func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
		return
	}
	m.connectionStatus.Set(0)
}

// RecordPublish records one publish attempt.
func (m *MQTTMetrics) RecordPublish(size int, seconds float64, err error) {
	if err != nil {
		m.messagesTotal.WithLabelValues(StatusError).Inc()
		return
	}
	m.messagesTotal.WithLabelValues(StatusSuccess).Inc()
	m.publishDuration.Observe(seconds)
	m.messageSize.Observe(float64(size))
}
