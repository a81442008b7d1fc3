package health

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Required input columns. Unknown extra columns are ignored.
const (
	colTimestamp   = "timestamp"
	colCellID      = "cell_id"
	colVoltage     = "voltage_v"
	colCurrent     = "current_a"
	colTemperature = "temperature_c"
)

// Physical plausibility bounds for a temperature reading.
const (
	minTemperatureC = -40
	maxTemperatureC = 100
)

// timestampLayouts are the accepted timestamp formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ingest parses and validates raw rows, grouping the surviving samples into
// per-cell series sorted by timestamp.
//
// Malformed or out-of-range rows are never fatal: each is recorded as a
// RowError and excluded from its cell's series. Duplicate timestamps within
// a cell are retained in input order (stable sort, no deduplication). A cell
// whose rows were all rejected simply has no series — the aggregator records
// it as a cell-level failure.
func ingest(rows []Row) (map[string]*CellSeries, []RowError) {
	series := make(map[string]*CellSeries)
	var rowErrs []RowError

	for i, row := range rows {
		sample, err := parseRow(row)
		if err != nil {
			rowErrs = append(rowErrs, RowError{
				Line:   i + 1,
				CellID: sample.CellID,
				Err:    err,
			})
			continue
		}
		cs, ok := series[sample.CellID]
		if !ok {
			cs = &CellSeries{CellID: sample.CellID}
			series[sample.CellID] = cs
		}
		cs.Samples = append(cs.Samples, sample)
	}

	for _, cs := range series {
		sort.SliceStable(cs.Samples, func(a, b int) bool {
			return cs.Samples[a].Timestamp.Before(cs.Samples[b].Timestamp)
		})
	}
	return series, rowErrs
}

// parseRow decodes one raw row into a range-checked TelemetrySample.
// On failure the returned sample still carries the cell ID when that column
// parsed, so the error can be attributed to its cell.
func parseRow(row Row) (TelemetrySample, error) {
	var s TelemetrySample

	id, ok := row[colCellID]
	if !ok || id == "" {
		return s, &ParseError{Column: colCellID, Value: id, Err: errors.New("missing")}
	}
	s.CellID = id

	ts, err := parseTimestamp(row[colTimestamp])
	if err != nil {
		return s, &ParseError{Column: colTimestamp, Value: row[colTimestamp], Err: err}
	}
	s.Timestamp = ts

	if s.VoltageV, err = parseFloat(row, colVoltage); err != nil {
		return s, err
	}
	if s.CurrentA, err = parseFloat(row, colCurrent); err != nil {
		return s, err
	}
	if s.TemperatureC, err = parseFloat(row, colTemperature); err != nil {
		return s, err
	}

	if s.VoltageV <= 0 {
		return s, &ValidationError{Column: colVoltage, Value: s.VoltageV, Reason: "voltage must be positive"}
	}
	if s.TemperatureC < minTemperatureC || s.TemperatureC > maxTemperatureC {
		return s, &ValidationError{
			Column: colTemperature,
			Value:  s.TemperatureC,
			Reason: fmt.Sprintf("outside plausible range [%d, %d]", minTemperatureC, maxTemperatureC),
		}
	}
	return s, nil
}

func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("missing")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.New("unrecognised datetime format")
}

func parseFloat(row Row, col string) (float64, error) {
	v, ok := row[col]
	if !ok || v == "" {
		return 0, &ParseError{Column: col, Value: v, Err: errors.New("missing")}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ParseError{Column: col, Value: v, Err: err}
	}
	// ParseFloat accepts "NaN" and "Inf"; neither is a usable reading and
	// NaN additionally defeats every range comparison downstream.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ValidationError{Column: col, Value: f, Reason: "must be finite"}
	}
	return f, nil
}
