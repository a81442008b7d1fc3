package health

import "time"

// Severity classifies how badly a metric breaches its configured thresholds.
const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Severity is one of: none | warning | critical.
type Severity string

// rank orders severities for worst-case selection: critical > warning > none.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severity values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityNone, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// maxSeverity returns the more severe of a and b.
func maxSeverity(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// MetricType names one of the health indicators a Threshold can apply to.
type MetricType string

// Metric types accepted in threshold configuration.
const (
	MetricSoC         MetricType = "soc"
	MetricSoH         MetricType = "soh"
	MetricResistance  MetricType = "resistance"
	MetricTemperature MetricType = "temperature"
)

// Valid reports whether m is one of the known metric types.
func (m MetricType) Valid() bool {
	switch m {
	case MetricSoC, MetricSoH, MetricResistance, MetricTemperature:
		return true
	}
	return false
}

// Row is one raw input row, keyed by column name. Required columns are
// timestamp, cell_id, voltage_v, current_a and temperature_c; unknown extra
// columns are ignored.
type Row map[string]string

// TelemetrySample is one parsed, range-checked BMS reading.
type TelemetrySample struct {
	Timestamp    time.Time
	CellID       string
	VoltageV     float64
	CurrentA     float64
	TemperatureC float64
}

// CellSeries is the ordered per-cell sample sequence for one batch, sorted by
// timestamp ascending. It is built and owned by the aggregator and never
// outlives the ProcessBatch call that created it.
type CellSeries struct {
	CellID  string
	Samples []TelemetrySample
}

// ResistanceFit is the transient result of the voltage-vs-current regression.
// It is consumed immediately by the SoH estimator and not persisted.
type ResistanceFit struct {
	// SlopeVPerA is the fitted slope of voltage against current. During
	// discharge the slope is expected to be negative: resistance opposes
	// current draw.
	SlopeVPerA float64

	// InterceptV approximates the open-circuit voltage of the fit.
	InterceptV float64

	// RSquared is the coefficient of determination, attached for confidence
	// reporting only — it does not gate success.
	RSquared float64

	// SampleCount is the number of load-window samples used in the fit.
	SampleCount int
}

// ResistanceMilliohm converts the fitted slope to internal resistance in
// milliohms, clamped at zero.
func (f ResistanceFit) ResistanceMilliohm() float64 {
	r := -f.SlopeVPerA * 1000
	if r < 0 {
		return 0
	}
	return r
}

// HealthMetric is the per-cell output of one batch run. Immutable after
// creation.
type HealthMetric struct {
	CellID                     string   `json:"cell_id"`
	MeasurementID              string   `json:"measurement_id"`
	SoCPercent                 float64  `json:"soc_percent"`
	SoHPercent                 float64  `json:"soh_percent"`
	InternalResistanceMilliohm float64  `json:"internal_resistance_mohm"`
	TemperatureC               float64  `json:"temperature_c"`
	PassesThreshold            bool     `json:"passes_threshold"`
	Severity                   Severity `json:"severity"`
}

// BatchResult is the outcome of one ProcessBatch call.
type BatchResult struct {
	MeasurementID string

	// Metrics holds one HealthMetric per successfully processed cell,
	// sorted by CellID so results are deterministic regardless of worker
	// scheduling.
	Metrics []HealthMetric

	// Failures maps a cell ID to the error that stopped its processing.
	// A failure for one cell never affects the others.
	Failures map[string]error

	// RowErrors lists the input rows that were rejected during ingestion.
	RowErrors []RowError
}
