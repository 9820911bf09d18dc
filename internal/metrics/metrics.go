// Package metrics defines the Prometheus instrumentation for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Protocol metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accelerd_requests_total",
			Help: "Total protocol requests by message type and outcome",
		},
		[]string{"msg_type", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accelerd_request_duration_seconds",
			Help:    "Protocol request handling duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"msg_type"},
	)

	// State metrics
	TrajectoriesRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accelerd_trajectories_registered_total",
			Help: "Total trajectory records appended to the ledger",
		},
	)

	DuplicateReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accelerd_duplicate_reports_total",
			Help: "Total simulator_done retries absorbed idempotently",
		},
	)

	ModelsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accelerd_models_accepted_total",
			Help: "Total model results accepted",
		},
	)

	CurrentRound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accelerd_current_round",
			Help: "Current adaptive sampling round",
		},
	)

	RegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accelerd_registry_size",
			Help: "Number of records in the trajectory ledger",
		},
	)

	// Sampling metrics
	SeedsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accelerd_seeds_issued_total",
			Help: "Total seed assignments issued by origin",
		},
		[]string{"origin"}, // "initial" or "model"
	)
)
