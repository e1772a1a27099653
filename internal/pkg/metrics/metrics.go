package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyaudit_records_enqueued_total",
		Help: "Audit records handed to the delivery queue",
	}, []string{"category"})

	RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyaudit_records_dropped_total",
		Help: "Audit records evicted by the drop-oldest overflow policy",
	})

	RecordsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyaudit_records_persisted_total",
		Help: "Audit records written to the sink",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyaudit_persist_failures_total",
		Help: "Audit records lost because the sink failed",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyaudit_queue_depth",
		Help: "Audit records waiting in the delivery queue",
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polyaudit_http_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
