// Package observability provides Prometheus metrics and scan pruning
// statistics for the Tessera core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core's Prometheus collectors. A nil *Metrics is a
// valid no-op receiver, so components can be wired without metrics in
// tests.
type Metrics struct {
	insertsTotal      prometheus.Counter
	scansTotal        prometheus.Counter
	partitionsScanned prometheus.Counter
	partitionsPruned  prometheus.Counter
	maintenanceTotal  *prometheus.CounterVec
	refreshTotal      *prometheus.CounterVec
	aggregateQueries  *prometheus.CounterVec
}

// NewMetrics creates and registers the core collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		insertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Name:      "inserts_total",
			Help:      "Rows inserted into the partitioned table store.",
		}),
		scansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Name:      "scans_total",
			Help:      "Range and full scans started.",
		}),
		partitionsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Name:      "partitions_scanned_total",
			Help:      "Partitions touched by scans after pruning.",
		}),
		partitionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Name:      "partitions_pruned_total",
			Help:      "Partitions excluded from scans by pruning.",
		}),
		maintenanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tessera",
			Name:      "maintenance_operations_total",
			Help:      "Boundary maintenance operations applied.",
		}, []string{"op"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tessera",
			Name:      "aggregate_refresh_total",
			Help:      "Aggregate cache refresh attempts by outcome.",
		}, []string{"outcome"}),
		aggregateQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tessera",
			Name:      "aggregate_queries_total",
			Help:      "Aggregate queries by read path.",
		}, []string{"path"}),
	}

	reg.MustRegister(
		m.insertsTotal,
		m.scansTotal,
		m.partitionsScanned,
		m.partitionsPruned,
		m.maintenanceTotal,
		m.refreshTotal,
		m.aggregateQueries,
	)
	return m
}

// ObserveInsert records n inserted rows.
func (m *Metrics) ObserveInsert(n int) {
	if m == nil {
		return
	}
	m.insertsTotal.Add(float64(n))
}

// ObserveScan records one scan and its pruning outcome.
func (m *Metrics) ObserveScan(scanned, pruned int) {
	if m == nil {
		return
	}
	m.scansTotal.Inc()
	m.partitionsScanned.Add(float64(scanned))
	m.partitionsPruned.Add(float64(pruned))
}

// ObserveMaintenance records a split or merge.
func (m *Metrics) ObserveMaintenance(op string) {
	if m == nil {
		return
	}
	m.maintenanceTotal.WithLabelValues(op).Inc()
}

// ObserveRefresh records an aggregate refresh outcome ("ok"/"error").
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

// ObserveAggregateQuery records an aggregate read path
// ("cached", "hybrid", or "recompute").
func (m *Metrics) ObserveAggregateQuery(path string) {
	if m == nil {
		return
	}
	m.aggregateQueries.WithLabelValues(path).Inc()
}
