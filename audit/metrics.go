package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actionlog_records_emitted_total",
			Help: "Action records appended to the store, labeled by action kind.",
		},
		[]string{"action"},
	)

	emitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actionlog_emit_failures_total",
			Help: "Emit calls that could not append to the store.",
		},
		[]string{"action"},
	)

	queueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "actionlog_queue_dropped_total",
			Help: "Records dropped by the hook queue (buffer full or retries exhausted).",
		},
	)

	sinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actionlog_sink_failures_total",
			Help: "Records that could not be mirrored to a sink.",
		},
		[]string{"sink"},
	)
)
