package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionlog_ingest_messages_total",
		Help: "Ingested emit requests by outcome: emitted, retry or poison.",
	}, []string{"outcome"})

	ingestDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actionlog_ingest_dropped_total",
		Help: "Messages acknowledged after their retries ran out.",
	})

	ingestLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "actionlog_ingest_lag_messages",
		Help: "Messages behind the partition high-water mark after the last commit.",
	}, []string{"topic", "partition"})
)
