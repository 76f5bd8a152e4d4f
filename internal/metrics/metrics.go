// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ListenerStartFailuresTotal counts listeners that failed to start, by startup stage
	ListenerStartFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netraffic_listener_start_failures_total",
			Help: "Total number of listeners that failed during startup",
		},
		[]string{"stage"},
	)

	// ControlSignalsTotal counts control signals routed to workers
	ControlSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netraffic_control_signals_total",
			Help: "Total number of control signals sent to capture workers",
		},
		[]string{"signal", "result"},
	)

	// SnapshotPublishesTotal counts snapshot writes into the stats store
	SnapshotPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netraffic_snapshot_publishes_total",
			Help: "Total number of snapshots published to the stats store",
		},
		[]string{"rule"},
	)

	// WorkerExitsTotal counts capture worker exits by reason
	WorkerExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netraffic_worker_exits_total",
			Help: "Total number of capture worker exits",
		},
		[]string{"reason"},
	)

	// ListenersActive tracks workers that have not yet exited
	ListenersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netraffic_listeners_active",
			Help: "Number of capture workers currently running or suspended",
		},
	)

	// ReportErrorsTotal counts snapshot report failures by sink
	ReportErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netraffic_report_errors_total",
			Help: "Total number of snapshot report failures",
		},
		[]string{"sink"},
	)
)

// Control signal results
const (
	SignalDelivered = "delivered"
	SignalDropped   = "dropped"
	SignalUnknown   = "unknown_rule"
)
