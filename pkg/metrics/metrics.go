// Package metrics provides Prometheus metrics for the sunflower service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassesTotal tracks ingestion passes by trigger
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunflower",
			Subsystem: "ingestion",
			Name:      "passes_total",
			Help:      "Total number of ingestion passes by trigger",
		},
		[]string{"trigger"},
	)

	// PassDuration tracks how long a full pass over all regions takes
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sunflower",
			Subsystem: "ingestion",
			Name:      "pass_duration_seconds",
			Help:      "Duration of ingestion passes in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// RegionOutcomesTotal tracks the terminal state of each region in a pass
	RegionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunflower",
			Subsystem: "ingestion",
			Name:      "region_outcomes_total",
			Help:      "Terminal state of each region processed in a pass",
		},
		[]string{"region", "state"},
	)

	// UpsertsTotal tracks upsert outcomes by source
	UpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunflower",
			Subsystem: "store",
			Name:      "upserts_total",
			Help:      "Total number of demand record upserts by source and action",
		},
		[]string{"source", "action"},
	)

	// FeedRequestDuration tracks upstream request duration
	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sunflower",
			Subsystem: "feed",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream feed requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	// AlertsTotal tracks alert deliveries
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunflower",
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Total number of deviation alerts by delivery status",
		},
		[]string{"status"},
	)

	// KafkaPublishTotal tracks Kafka publishes
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunflower",
			Subsystem: "kafka",
			Name:      "publish_total",
			Help:      "Total number of Kafka publishes by topic kind and status",
		},
		[]string{"kind", "status"},
	)
)

func RecordPass(trigger string, durationSeconds float64) {
	PassesTotal.WithLabelValues(trigger).Inc()
	PassDuration.Observe(durationSeconds)
}

func RecordRegionOutcome(region, state string) {
	RegionOutcomesTotal.WithLabelValues(region, state).Inc()
}

func RecordUpsert(source, action string) {
	UpsertsTotal.WithLabelValues(source, action).Inc()
}

func RecordFeedRequest(outcome string, durationSeconds float64) {
	FeedRequestDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

func RecordAlert(status string) {
	AlertsTotal.WithLabelValues(status).Inc()
}

func RecordKafkaPublish(kind, status string) {
	KafkaPublishTotal.WithLabelValues(kind, status).Inc()
}
