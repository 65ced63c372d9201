// Package metrics exposes Prometheus counters for the ledger engine.
// Incremented from the API layer so the engine package stays free of
// observability dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DeltasApplied counts balance deltas written by the updater.
	DeltasApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_balance_deltas_applied_total",
		Help: "Number of pairwise balance deltas applied to the cache.",
	})

	// RebuildRuns counts full cache rebuilds.
	RebuildRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_rebuild_runs_total",
		Help: "Number of full balance cache rebuilds.",
	})

	// VerifyDiscrepancies counts discrepancies reported by the verifier.
	VerifyDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_verify_discrepancies_total",
		Help: "Number of cache-vs-truth discrepancies reported.",
	})

	// RecurringMaterialized counts transactions created by the scheduler.
	RecurringMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_recurring_materialized_total",
		Help: "Number of recurring transactions materialized from templates.",
	})
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
