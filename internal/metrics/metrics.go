// Package metrics holds the Prometheus counters exported by lattice.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lattice"

var (
	// SearchSyncFailures counts search propagation failures that were swallowed.
	SearchSyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "sync_failures_total",
			Help:      "Search index writes that failed after the primary write succeeded.",
		},
		[]string{"model", "op"},
	)

	// StoreRetries counts retried store calls.
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Store calls retried after throttling.",
		},
		[]string{"op"},
	)

	// QueryPlans counts planned queries by access path.
	QueryPlans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_plans_total",
			Help:      "Queries executed, by model and access path.",
		},
		[]string{"model", "path"},
	)

	// MigrationOperations counts applied migration operations.
	MigrationOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migrate",
			Name:      "operations_total",
			Help:      "Migration operations, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// Reindexed counts documents emitted by reindex runs.
	Reindexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "reindexed_documents_total",
			Help:      "Documents written by reindex runs.",
		},
		[]string{"model"},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
