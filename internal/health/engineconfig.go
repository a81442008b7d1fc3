package health

import (
	"fmt"
	"math"
	"time"
)

// Default engine tuning values, applied by Config.WithDefaults.
const (
	DefaultNoiseFloorA    = 0.05
	DefaultMinFitSamples  = 3
	DefaultRatedCycleLife = 2000
	DefaultConcurrency    = 4
)

// weightSumTolerance is how far the SoH weights may drift from 1.0 before
// the configuration is rejected.
const weightSumTolerance = 1e-6

// SoHWeights are the relative weights of the three SoH factors.
// They must sum to 1; the zero value selects equal thirds.
type SoHWeights struct {
	Capacity   float64
	Resistance float64
	Cycle      float64
}

// equalThirds returns the default weight split.
func equalThirds() SoHWeights {
	return SoHWeights{Capacity: 1.0 / 3, Resistance: 1.0 / 3, Cycle: 1.0 / 3}
}

// CellParams holds the per-cell reference values the SoH estimator compares
// current measurements against.
type CellParams struct {
	NominalCapacityAh          float64
	MeasuredCapacityAh         float64
	BaselineResistanceMilliohm float64
	CycleCount                 int
}

// Threshold is one severity band for a metric type. At least one of Min and
// Max must be set; multiple thresholds may apply to the same metric type
// (for example a warning band inside a critical band).
type Threshold struct {
	Metric   MetricType
	Min      *float64
	Max      *float64
	Severity Severity
}

// Config bundles everything one ProcessBatch call needs besides the rows.
// It is read-only for the duration of a batch; the engine never caches it
// across calls.
type Config struct {
	OCV        OCVTable
	Thresholds []Threshold

	// Weights for the SoH combination; zero value means equal thirds.
	Weights SoHWeights

	// Cells maps cell IDs to their baseline/nominal reference values.
	// A cell appearing in the input without an entry here fails at the
	// cell level, not the batch level.
	Cells map[string]CellParams

	// NoiseFloorA is the |current| below which a sample is excluded from
	// the resistance load window.
	NoiseFloorA float64

	// MinFitSamples is the minimum load-window size for regression.
	MinFitSamples int

	// RatedCycleLife is the cycle count at which the cycle factor reaches
	// zero.
	RatedCycleLife int

	// Concurrency bounds the per-cell worker pool.
	Concurrency int

	// CellTimeout, when positive, converts a slow cell computation into a
	// per-cell failure. It never aborts the batch.
	CellTimeout time.Duration
}

// WithDefaults fills zero-valued tuning fields. It does not mutate cfg.
func (c Config) WithDefaults() Config {
	if c.Weights == (SoHWeights{}) {
		c.Weights = equalThirds()
	}
	if c.NoiseFloorA == 0 {
		c.NoiseFloorA = DefaultNoiseFloorA
	}
	if c.MinFitSamples == 0 {
		c.MinFitSamples = DefaultMinFitSamples
	}
	if c.RatedCycleLife == 0 {
		c.RatedCycleLife = DefaultRatedCycleLife
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Validate checks every configuration invariant the engine depends on.
// Any violation is a *ConfigurationError and aborts the batch before
// per-cell work starts.
func (c Config) Validate() error {
	if err := c.OCV.validate(); err != nil {
		return err
	}

	for i, t := range c.Thresholds {
		if t.Min == nil && t.Max == nil {
			return &ConfigurationError{
				Field:  fmt.Sprintf("thresholds[%d]", i),
				Reason: "neither min nor max bound is set",
			}
		}
		if !t.Metric.Valid() {
			return &ConfigurationError{
				Field:  fmt.Sprintf("thresholds[%d].metric", i),
				Reason: fmt.Sprintf("unknown metric type %q", t.Metric),
			}
		}
		if !t.Severity.Valid() {
			return &ConfigurationError{
				Field:  fmt.Sprintf("thresholds[%d].severity", i),
				Reason: fmt.Sprintf("unknown severity %q", t.Severity),
			}
		}
		if t.Min != nil && t.Max != nil && *t.Min > *t.Max {
			return &ConfigurationError{
				Field:  fmt.Sprintf("thresholds[%d]", i),
				Reason: fmt.Sprintf("min %v exceeds max %v", *t.Min, *t.Max),
			}
		}
	}

	w := c.Weights
	if w.Capacity < 0 || w.Resistance < 0 || w.Cycle < 0 {
		return &ConfigurationError{Field: "weights", Reason: "weights must not be negative"}
	}
	if sum := w.Capacity + w.Resistance + w.Cycle; math.Abs(sum-1) > weightSumTolerance {
		return &ConfigurationError{
			Field:  "weights",
			Reason: fmt.Sprintf("weights sum to %v, want 1", sum),
		}
	}

	for id, p := range c.Cells {
		if p.NominalCapacityAh <= 0 {
			return &ConfigurationError{
				Field:  fmt.Sprintf("cells[%s].nominal_capacity_ah", id),
				Reason: "must be positive",
			}
		}
		if p.BaselineResistanceMilliohm <= 0 {
			return &ConfigurationError{
				Field:  fmt.Sprintf("cells[%s].baseline_resistance_mohm", id),
				Reason: "must be positive",
			}
		}
		if p.CycleCount < 0 {
			return &ConfigurationError{
				Field:  fmt.Sprintf("cells[%s].cycle_count", id),
				Reason: "must not be negative",
			}
		}
	}

	if c.NoiseFloorA < 0 {
		return &ConfigurationError{Field: "noise_floor_a", Reason: "must not be negative"}
	}
	if c.MinFitSamples < 2 {
		return &ConfigurationError{Field: "min_fit_samples", Reason: "must be at least 2"}
	}
	if c.RatedCycleLife <= 0 {
		return &ConfigurationError{Field: "rated_cycle_life", Reason: "must be positive"}
	}
	return nil
}
