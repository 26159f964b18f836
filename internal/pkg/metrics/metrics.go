// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stockflow"

var (
	// AdmissionsTotal 按结果统计下单请求: accepted / rejected / invalid / error
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "requests_total",
		Help:      "Order submissions partitioned by result and reason.",
	}, []string{"result", "reason"})

	AdmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "duration_seconds",
		Help:      "Latency of order submissions.",
		Buckets:   prometheus.DefBuckets,
	})

	// PublishFailuresTotal 发布失败 (dispatch / outcome)
	PublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_failures_total",
		Help:      "Failed message publishes partitioned by topic.",
	}, []string{"topic"})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "outcomes_total",
		Help:      "Authoritative reconciliation outcomes.",
	}, []string{"outcome"})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "duplicate_deliveries_total",
		Help:      "Dispatch events suppressed by the dedup guard.",
	})

	RedeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "redeliveries_total",
		Help:      "Dispatch events left unacknowledged after a transient fault.",
	})

	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_letters_total",
		Help:      "Messages routed to a dead letter topic.",
	}, []string{"topic"})
)
