// Package metrics exposes Prometheus instrumentation for the arbitrage core.
// Counters and gauges are registered in init() and served at /metrics by the
// operational HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_snapshots_total",
		Help: "Price snapshots taken",
	})

	VenueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_venue_failures_total",
		Help: "Adapter failures during aggregation, by venue",
	}, []string{"venue"})

	QuotesAggregated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_quotes_in_snapshot",
		Help: "Quotes in the most recent snapshot after staleness filtering",
	})

	CandidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_candidates_total",
		Help: "Candidate routes produced by the detector",
	})

	GateRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_gate_rejections_total",
		Help: "Routes rejected before execution, by gate (compliance|risk)",
	}, []string{"gate"})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_executions_total",
		Help: "Execution attempts by terminal status",
	}, []string{"status"})

	RealizedPnL = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flasharb_realized_pnl_base_units",
		Help: "Cumulative realized PnL per loan asset, in base units",
	}, []string{"asset"})

	HaltEngaged = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_halt_engaged",
		Help: "1 while the kill switch is engaged",
	})
)

func init() {
	prometheus.MustRegister(
		SnapshotsTotal,
		VenueFailures,
		QuotesAggregated,
		CandidatesTotal,
		GateRejections,
		ExecutionsTotal,
		RealizedPnL,
		HaltEngaged,
	)
}
