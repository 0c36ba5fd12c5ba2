package plantfeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ingestion counters. A nil *Metrics is valid and
// records nothing, so tests can leave it out.
type Metrics struct {
	PoolsCreated      prometheus.Counter
	DatasetsIngested  *prometheus.CounterVec
	RowsWritten       prometheus.Counter
	ConflictsDetected prometheus.Counter
	JobsDeferred      prometheus.Counter
	Decisions         *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PoolsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "plantfeed_tenant_pools_created_total",
			Help: "Tenant connection pools created since process start.",
		}),
		DatasetsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plantfeed_datasets_ingested_total",
			Help: "Ingestion requests by outcome.",
		}, []string{"outcome"}),
		RowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "plantfeed_rows_written_total",
			Help: "Sample rows persisted across all tenants.",
		}),
		ConflictsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "plantfeed_frequency_conflicts_total",
			Help: "Series flagged with a frequency conflict.",
		}),
		JobsDeferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "plantfeed_jobs_deferred_total",
			Help: "Ingestions deferred to the decision workflow.",
		}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plantfeed_job_decisions_total",
			Help: "Decisions applied to deferred jobs.",
		}, []string{"decision"}),
	}
}

func (m *Metrics) poolCreated() {
	if m == nil {
		return
	}
	m.PoolsCreated.Inc()
}

func (m *Metrics) datasetIngested(outcome string) {
	if m == nil {
		return
	}
	m.DatasetsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) rowsWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsWritten.Add(float64(n))
}

func (m *Metrics) conflictsDetected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ConflictsDetected.Add(float64(n))
}

func (m *Metrics) jobDeferred() {
	if m == nil {
		return
	}
	m.JobsDeferred.Inc()
}

func (m *Metrics) decisionApplied(decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(decision).Inc()
}
