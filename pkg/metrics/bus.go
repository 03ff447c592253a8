package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusMetrics counts event bus traffic per topic.
type BusMetrics struct {
	published     *prometheus.CounterVec
	consumed      *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	consumeErrors *prometheus.CounterVec
}

// NewBusMetrics creates BusMetrics registered with reg.
func NewBusMetrics(namespace string, reg prometheus.Registerer) *BusMetrics {
	factory := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      name,
			Help:      help,
		}, []string{"topic"})
	}
	return &BusMetrics{
		published:     counter("messages_published_total", "Messages published"),
		consumed:      counter("messages_consumed_total", "Messages handled successfully"),
		publishErrors: counter("publish_errors_total", "Messages that failed to publish"),
		consumeErrors: counter("consume_errors_total", "Messages that failed to decode or handle"),
	}
}

func (m *BusMetrics) IncMessagePublished(_ context.Context, topic string) {
	m.published.WithLabelValues(topic).Inc()
}

func (m *BusMetrics) IncMessageConsumed(_ context.Context, topic string) {
	m.consumed.WithLabelValues(topic).Inc()
}

func (m *BusMetrics) IncPublishError(_ context.Context, topic string) {
	m.publishErrors.WithLabelValues(topic).Inc()
}

func (m *BusMetrics) IncConsumeError(_ context.Context, topic string) {
	m.consumeErrors.WithLabelValues(topic).Inc()
}
