package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cellpulse/cellpulse/internal/health"
)

// Metrics bundles the service's Prometheus collectors.
type Metrics struct {
	batchesProcessed prometheus.Counter
	cellsProcessed   prometheus.Counter
	cellFailures     prometheus.Counter
	rowsRejected     prometheus.Counter
	severityGauge    *prometheus.GaugeVec
	batchDuration    prometheus.Histogram
}

// New registers the service collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batchesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "cellpulse_batches_processed_total",
			Help: "Measurement batches accepted by the health engine.",
		}),
		cellsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "cellpulse_cells_processed_total",
			Help: "Cells that produced a health metric.",
		}),
		cellFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cellpulse_cell_failures_total",
			Help: "Cells excluded from a batch by a per-cell error.",
		}),
		rowsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "cellpulse_rows_rejected_total",
			Help: "Input rows dropped during parse/validation.",
		}),
		severityGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cellpulse_batch_severity_cells",
			Help: "Cell count per severity in the most recent batch.",
		}, []string{"severity"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cellpulse_batch_duration_seconds",
			Help:    "Wall time of one engine batch run.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

// ObserveBatch records the outcome of one engine run.
func (m *Metrics) ObserveBatch(res *health.BatchResult, elapsed time.Duration) {
	m.batchesProcessed.Inc()
	m.cellsProcessed.Add(float64(len(res.Metrics)))
	m.cellFailures.Add(float64(len(res.Failures)))
	m.rowsRejected.Add(float64(len(res.RowErrors)))
	m.batchDuration.Observe(elapsed.Seconds())

	counts := map[health.Severity]int{
		health.SeverityNone:     0,
		health.SeverityWarning:  0,
		health.SeverityCritical: 0,
	}
	for _, metric := range res.Metrics {
		counts[metric.Severity]++
	}
	for sev, n := range counts {
		m.severityGauge.WithLabelValues(string(sev)).Set(float64(n))
	}
}
