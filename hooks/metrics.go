package hooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var hookFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "actionlog_hook_failures_total",
		Help: "Lifecycle hooks that could not produce a record. The mutation itself succeeded.",
	},
	[]string{"kind", "transition"},
)
