package health

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// testConfig returns a valid baseline configuration with two known cells.
func testConfig() Config {
	return Config{
		OCV: threePointTable(),
		Cells: map[string]CellParams{
			"A": {NominalCapacityAh: 50, MeasuredCapacityAh: 50, BaselineResistanceMilliohm: 50},
			"B": {NominalCapacityAh: 50, MeasuredCapacityAh: 50, BaselineResistanceMilliohm: 50},
		},
	}
}

// dischargeRows builds a three-sample discharge series for cellID whose fit
// yields exactly 50 mΩ and whose last (representative) sample reads 3.70 V.
func dischargeRows(cellID string) []Row {
	return []Row{
		row(cellID, "2026-03-01T12:00:00Z", map[string]string{colVoltage: "3.60", colCurrent: "3"}),
		row(cellID, "2026-03-01T12:00:01Z", map[string]string{colVoltage: "3.65", colCurrent: "2"}),
		row(cellID, "2026-03-01T12:00:02Z", map[string]string{colVoltage: "3.70", colCurrent: "1"}),
	}
}

func TestProcessBatch_EndToEnd(t *testing.T) {
	res, err := ProcessBatch(context.Background(), "m-1", dischargeRows("A"), testConfig())
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(res.Metrics) != 1 || len(res.Failures) != 0 {
		t.Fatalf("metrics=%d failures=%d, want 1 and 0", len(res.Metrics), len(res.Failures))
	}

	m := res.Metrics[0]
	if m.CellID != "A" || m.MeasurementID != "m-1" {
		t.Errorf("metric identity = (%s, %s), want (A, m-1)", m.CellID, m.MeasurementID)
	}
	// Last sample is 3.70 V — exactly the middle table entry.
	if !almostEqual(m.SoCPercent, 50.0, 1e-9) {
		t.Errorf("SoC = %v, want 50.0", m.SoCPercent)
	}
	if !almostEqual(m.InternalResistanceMilliohm, 50.0, 1e-9) {
		t.Errorf("resistance = %v mΩ, want 50.0", m.InternalResistanceMilliohm)
	}
	// Resistance equals baseline, capacity equals nominal, zero cycles.
	if !almostEqual(m.SoHPercent, 100.0, 1e-9) {
		t.Errorf("SoH = %v, want 100.0", m.SoHPercent)
	}
	if !almostEqual(m.TemperatureC, 25.0, 1e-9) {
		t.Errorf("temperature = %v, want 25.0 (series mean)", m.TemperatureC)
	}
	if !m.PassesThreshold || m.Severity != SeverityNone {
		t.Errorf("classification = (%v, %q), want (true, none) with no thresholds",
			m.PassesThreshold, m.Severity)
	}
}

func TestProcessBatch_FailureIsolation(t *testing.T) {
	// Cell A is valid; every row of cell B carries a negative voltage.
	rows := dischargeRows("A")
	rows = append(rows,
		row("B", "2026-03-01T12:00:00Z", map[string]string{colVoltage: "-3.6"}),
		row("B", "2026-03-01T12:00:01Z", map[string]string{colVoltage: "-3.6"}),
	)

	res, err := ProcessBatch(context.Background(), "m-2", rows, testConfig())
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(res.Metrics) != 1 {
		t.Fatalf("metrics = %d, want exactly 1 (cell A)", len(res.Metrics))
	}
	if res.Metrics[0].CellID != "A" {
		t.Errorf("surviving cell = %s, want A", res.Metrics[0].CellID)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures = %d, want exactly 1 (cell B)", len(res.Failures))
	}
	if _, ok := res.Failures["B"]; !ok {
		t.Errorf("failures missing entry for cell B: %v", res.Failures)
	}
	if len(res.RowErrors) != 2 {
		t.Errorf("row errors = %d, want 2", len(res.RowErrors))
	}
}

func TestProcessBatch_ConfigurationErrorAbortsBatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold with neither bound", func(c *Config) {
			c.Thresholds = []Threshold{{Metric: MetricSoH, Severity: SeverityWarning}}
		}},
		{"ocv table too short", func(c *Config) {
			c.OCV = OCVTable{{3.7, 50}}
		}},
		{"weights do not sum to one", func(c *Config) {
			c.Weights = SoHWeights{Capacity: 0.5, Resistance: 0.5, Cycle: 0.5}
		}},
		{"zero nominal capacity", func(c *Config) {
			c.Cells["A"] = CellParams{BaselineResistanceMilliohm: 50}
		}},
		{"zero baseline resistance", func(c *Config) {
			c.Cells["A"] = CellParams{NominalCapacityAh: 50}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)

			res, err := ProcessBatch(context.Background(), "m-3", dischargeRows("A"), cfg)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("ProcessBatch() error = %v, want *ConfigurationError", err)
			}
			if res != nil {
				t.Errorf("result = %+v, want nil (zero metrics on configuration error)", res)
			}
		})
	}
}

func TestProcessBatch_NoValidCells(t *testing.T) {
	rows := []Row{
		row("A", "garbage", nil),
		row("B", "2026-03-01T12:00:00Z", map[string]string{colVoltage: "0"}),
	}
	_, err := ProcessBatch(context.Background(), "m-4", rows, testConfig())
	if !errors.Is(err, ErrNoValidCells) {
		t.Fatalf("ProcessBatch() error = %v, want ErrNoValidCells", err)
	}
}

func TestProcessBatch_Deterministic(t *testing.T) {
	// Many cells, small worker pool: output must not depend on scheduling,
	// and re-running must be bit-identical.
	cfg := testConfig()
	var rows []Row
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("cell-%02d", i)
		cfg.Cells[id] = CellParams{NominalCapacityAh: 50, MeasuredCapacityAh: 45, BaselineResistanceMilliohm: 50, CycleCount: 300}
		rows = append(rows, dischargeRows(id)...)
	}
	cfg.Concurrency = 3

	first, err := ProcessBatch(context.Background(), "m-5", rows, cfg)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(first.Metrics) != 12 {
		t.Fatalf("metrics = %d, want 12", len(first.Metrics))
	}
	for i := 1; i < len(first.Metrics); i++ {
		if first.Metrics[i].CellID <= first.Metrics[i-1].CellID {
			t.Fatalf("metrics not sorted by cell ID: %s before %s",
				first.Metrics[i-1].CellID, first.Metrics[i].CellID)
		}
	}

	second, err := ProcessBatch(context.Background(), "m-5", rows, cfg)
	if err != nil {
		t.Fatalf("ProcessBatch() rerun error = %v", err)
	}
	if !reflect.DeepEqual(first.Metrics, second.Metrics) {
		t.Errorf("re-run produced different metrics")
	}
}

func TestProcessBatch_UnknownCellFails(t *testing.T) {
	rows := append(dischargeRows("A"), dischargeRows("ghost")...)

	res, err := ProcessBatch(context.Background(), "m-6", rows, testConfig())
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(res.Metrics) != 1 || res.Metrics[0].CellID != "A" {
		t.Errorf("metrics = %+v, want cell A only", res.Metrics)
	}
	if _, ok := res.Failures["ghost"]; !ok {
		t.Errorf("expected failure for unconfigured cell, got %v", res.Failures)
	}
}

func TestProcessBatch_InsufficientDataIsolated(t *testing.T) {
	// Cell B has a single resting sample — not enough for regression.
	rows := append(dischargeRows("A"),
		row("B", "2026-03-01T12:00:00Z", map[string]string{colCurrent: "0.01"}))

	res, err := ProcessBatch(context.Background(), "m-7", rows, testConfig())
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(res.Metrics) != 1 {
		t.Fatalf("metrics = %d, want 1", len(res.Metrics))
	}
	var insufficient *InsufficientDataError
	if !errors.As(res.Failures["B"], &insufficient) {
		t.Errorf("cell B failure = %v, want *InsufficientDataError", res.Failures["B"])
	}
}

func TestProcessBatch_WorstCaseClassification(t *testing.T) {
	cfg := testConfig()
	cfg.Thresholds = []Threshold{
		// 50 mΩ breaches this critical band...
		{Metric: MetricResistance, Max: fptr(40), Severity: SeverityCritical},
		// ...and 25 °C breaches this warning band.
		{Metric: MetricTemperature, Max: fptr(20), Severity: SeverityWarning},
		// SoC 50 sits inside this band.
		{Metric: MetricSoC, Min: fptr(10), Max: fptr(95), Severity: SeverityWarning},
	}

	res, err := ProcessBatch(context.Background(), "m-8", dischargeRows("A"), cfg)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	m := res.Metrics[0]
	if m.PassesThreshold {
		t.Errorf("PassesThreshold = true, want false")
	}
	if m.Severity != SeverityCritical {
		t.Errorf("Severity = %q, want critical (worst case across metric types)", m.Severity)
	}
}

func TestProcessBatch_NonFiniteVoltageIsolated(t *testing.T) {
	// NaN defeats ordinary range comparisons; rows carrying it must die at
	// ingestion as row errors, never reach the interpolator.
	rows := dischargeRows("A")
	for i := 0; i < 3; i++ {
		rows = append(rows, row("B",
			fmt.Sprintf("2026-03-01T12:00:0%dZ", i),
			map[string]string{colVoltage: "NaN"}))
	}

	res, err := ProcessBatch(context.Background(), "m-10", rows, testConfig())
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(res.Metrics) != 1 || res.Metrics[0].CellID != "A" {
		t.Errorf("metrics = %+v, want cell A only", res.Metrics)
	}
	if _, ok := res.Failures["B"]; !ok {
		t.Errorf("failures = %v, want entry for cell B", res.Failures)
	}
	if len(res.RowErrors) != 3 {
		t.Errorf("row errors = %d, want 3", len(res.RowErrors))
	}
}

func TestProcessBatch_OnlyNonFiniteRows(t *testing.T) {
	var rows []Row
	for i := 0; i < 3; i++ {
		rows = append(rows, row("A",
			fmt.Sprintf("2026-03-01T12:00:0%dZ", i),
			map[string]string{colVoltage: "NaN"}))
	}
	_, err := ProcessBatch(context.Background(), "m-11", rows, testConfig())
	if !errors.Is(err, ErrNoValidCells) {
		t.Fatalf("ProcessBatch() error = %v, want ErrNoValidCells", err)
	}
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ProcessBatch(ctx, "m-9", dischargeRows("A"), testConfig())
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v (cancellation is per-cell, not batch)", err)
	}
	if len(res.Failures) != 1 {
		t.Errorf("failures = %d, want 1 (cell turned into failure)", len(res.Failures))
	}
}
