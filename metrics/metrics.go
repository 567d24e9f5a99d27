package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhookd_events_triggered_total",
			Help: "Total number of events fanned out to endpoints.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookd_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookd_retries_total",
			Help: "Total number of delivery retries by failure reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	AttemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhookd_attempt_duration_seconds",
			Help:    "Latency of outbound delivery attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

// MustRegister registers every instrument on the given registry.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(EventsTriggeredTotal, DeliveriesTotal, RetriesTotal, AttemptLatency)
}

// RecordEventTriggered counts one event fan-out.
func RecordEventTriggered() {
	EventsTriggeredTotal.Inc()
}

// RecordDelivery counts one attempt outcome and observes its latency.
func RecordDelivery(status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	AttemptLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordRetry counts one failed attempt by reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

/* Collector abstracts the live-state reads the OTel exporter publishes as
 * observable gauges. Implemented by a thin adapter over the delivery store
 * so this package stays free of domain imports.
 */
type Collector interface {
	// GetStatusCounts returns the count of deliveries by status name.
	GetStatusCounts(ctx context.Context) (map[string]int64, error)
}
