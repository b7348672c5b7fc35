package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quayhook_deliveries_ingested_total",
			Help: "Total number of deliveries accepted by the ingestion API.",
		},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayhook_dispatches_total",
			Help: "Total number of dispatch cycles by outcome.",
		},
		[]string{"outcome"}, // delivered, retried, failed, skipped, error
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayhook_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_4xx, timeout, network
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quayhook_delivery_latency_seconds",
			Help:    "Latency of outbound webhook calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayhook_subscription_cache_lookups_total",
			Help: "Subscription cache lookups by result.",
		},
		[]string{"result"}, // hit, miss, error
	)

	RetentionDeletesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quayhook_retention_deletes_total",
			Help: "Total number of expired deliveries purged by the retention sweep.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		DeliveriesIngestedTotal,
		DispatchesTotal,
		RetriesTotal,
		DeliveryLatency,
		CacheLookupsTotal,
		RetentionDeletesTotal,
	)
}

// RecordDispatch counts one completed dispatch cycle.
func RecordDispatch(outcome string, latency time.Duration) {
	DispatchesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		DeliveryLatency.Observe(latency.Seconds())
	}
}

// RecordRetry counts a scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordCacheLookup counts a subscription cache lookup.
func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}
