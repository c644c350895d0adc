package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics tracks alert delivery.
type NotificationMetrics struct {
	deliveries *prometheus.CounterVec
	dropped    prometheus.Counter
}

// NewNotificationMetrics creates and registers notification metrics.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Alert deliveries, by provider and status",
		}, []string{"provider", "status"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_dropped_total",
			Help: "Alerts dropped because the queue was full",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.deliveries.Describe(ch)
	m.dropped.Describe(ch)
}

// Collect implements the Collector interface
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.deliveries.Collect(ch)
	m.dropped.Collect(ch)
}

func (m *NotificationMetrics) RecordDelivery(provider string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.deliveries.WithLabelValues(provider, status).Inc()
}

func (m *NotificationMetrics) RecordDropped() {
	m.dropped.Inc()
}
