package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics, exposed through the /metrics endpoint
var (
	metricReconcileCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "virtfleet_reconcile_cycles_total",
		Help: "Number of reconciliation cycles run",
	})

	metricReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "virtfleet_reconcile_failures_total",
		Help: "Number of reconciliation cycles aborted by store errors",
	})

	metricStalledDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "virtfleet_stalled_detected_total",
		Help: "Number of instances declared stalled by reconciliation",
	})

	metricHaltOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "virtfleet_halt_dispatch_total",
		Help: "Per-instance halt dispatch outcomes",
	}, []string{"outcome"})
)
