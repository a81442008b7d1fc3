package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoValidCells is returned when ingestion leaves no cell with any valid
// sample — the only condition under which a whole batch fails for data
// (rather than configuration) reasons.
var ErrNoValidCells = errors.New("no rows could be parsed into valid samples")

// ProcessBatch runs the full health pipeline over one measurement batch.
//
// Configuration is validated first; a *ConfigurationError aborts the call
// before any per-cell work and yields zero metrics. Rows are then ingested
// and grouped, and each cell is processed independently: SoC interpolation
// on the last sample, resistance regression over the load window, SoH
// estimation against the cell's baselines, and threshold evaluation across
// all four metric types. An error in any stage stops that cell only and is
// recorded in BatchResult.Failures.
//
// Cells are processed by a worker pool bounded by cfg.Concurrency, and the
// returned metrics are sorted by cell ID, so identical inputs produce
// bit-identical results regardless of scheduling.
func ProcessBatch(ctx context.Context, measurementID string, rows []Row, cfg Config) (*BatchResult, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	series, rowErrs := ingest(rows)
	if len(series) == 0 {
		return nil, fmt.Errorf("process batch %s: %w", measurementID, ErrNoValidCells)
	}

	res := &BatchResult{
		MeasurementID: measurementID,
		Failures:      make(map[string]error),
		RowErrors:     rowErrs,
	}

	// A cell whose rows were all rejected has no series left — record it as
	// a cell-level failure rather than dropping it silently.
	for _, re := range rowErrs {
		if re.CellID == "" {
			continue
		}
		if _, ok := series[re.CellID]; ok {
			continue
		}
		if _, ok := res.Failures[re.CellID]; !ok {
			res.Failures[re.CellID] = fmt.Errorf("no valid samples: %w", re.Err)
		}
	}

	// Deterministic work order; the pool may still finish out of order.
	cellIDs := make([]string, 0, len(series))
	for id := range series {
		cellIDs = append(cellIDs, id)
	}
	sort.Strings(cellIDs)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, cfg.Concurrency)
	)
	for _, id := range cellIDs {
		cs := series[id]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			metric, err := processCellBounded(ctx, measurementID, cs, cfg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures[cs.CellID] = err
				return
			}
			res.Metrics = append(res.Metrics, metric)
		}()
	}
	wg.Wait()

	sort.Slice(res.Metrics, func(a, b int) bool {
		return res.Metrics[a].CellID < res.Metrics[b].CellID
	})
	return res, nil
}

// processCellBounded applies the optional per-cell timeout around
// processCell. A timeout (or caller cancellation) becomes a cell failure,
// never a batch abort.
func processCellBounded(ctx context.Context, measurementID string, cs *CellSeries, cfg Config) (HealthMetric, error) {
	if cfg.CellTimeout <= 0 {
		if err := ctx.Err(); err != nil {
			return HealthMetric{}, err
		}
		return runCell(measurementID, cs, cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.CellTimeout)
	defer cancel()

	type outcome struct {
		metric HealthMetric
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		m, err := runCell(measurementID, cs, cfg)
		done <- outcome{m, err}
	}()

	select {
	case o := <-done:
		return o.metric, o.err
	case <-ctx.Done():
		return HealthMetric{}, fmt.Errorf("cell computation: %w", ctx.Err())
	}
}

// runCell contains a panic in cell computation as that cell's failure, so
// one bad series can never abort the batch.
func runCell(measurementID string, cs *CellSeries, cfg Config) (metric HealthMetric, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cell computation panicked: %v", r)
		}
	}()
	return processCell(measurementID, cs, cfg)
}

// processCell derives the HealthMetric for one cell's series.
func processCell(measurementID string, cs *CellSeries, cfg Config) (HealthMetric, error) {
	params, ok := cfg.Cells[cs.CellID]
	if !ok {
		return HealthMetric{}, fmt.Errorf("no baseline/nominal parameters configured for cell %q", cs.CellID)
	}

	// SoC from the most recent reading — the representative sample.
	last := cs.Samples[len(cs.Samples)-1]
	soc := cfg.OCV.SoC(last.VoltageV)

	fit, err := fitResistance(cs.Samples, cfg.NoiseFloorA, cfg.MinFitSamples)
	if err != nil {
		return HealthMetric{}, err
	}
	resistance := fit.ResistanceMilliohm()

	soh := estimateSoH(params, resistance, cfg.RatedCycleLife, cfg.Weights)

	var tempSum float64
	for _, s := range cs.Samples {
		tempSum += s.TemperatureC
	}
	temperature := tempSum / float64(len(cs.Samples))

	metric := HealthMetric{
		CellID:                     cs.CellID,
		MeasurementID:              measurementID,
		SoCPercent:                 soc,
		SoHPercent:                 soh,
		InternalResistanceMilliohm: resistance,
		TemperatureC:               temperature,
		PassesThreshold:            true,
		Severity:                   SeverityNone,
	}

	// Worst case across the four evaluated metric types.
	for _, eval := range []struct {
		metric MetricType
		value  float64
	}{
		{MetricSoC, soc},
		{MetricSoH, soh},
		{MetricResistance, resistance},
		{MetricTemperature, temperature},
	} {
		passes, severity := evaluateThresholds(eval.metric, eval.value, cfg.Thresholds)
		if !passes {
			metric.PassesThreshold = false
			metric.Severity = maxSeverity(metric.Severity, severity)
		}
	}
	return metric, nil
}
