package api

import (
	"github.com/cellpulse/cellpulse/internal/health"
	"github.com/cellpulse/cellpulse/internal/store"
)

// BatchResponse is returned by POST /api/v1/measurements.
type BatchResponse struct {
	MeasurementID string                `json:"measurement_id"`
	Metrics       []health.HealthMetric `json:"metrics"`
	Failures      map[string]string     `json:"failures,omitempty"`
	RowErrors     []RowErrorResponse    `json:"row_errors,omitempty"`
}

// RowErrorResponse describes one rejected input row.
type RowErrorResponse struct {
	Line   int    `json:"line"`
	CellID string `json:"cell_id,omitempty"`
	Error  string `json:"error"`
}

// FleetHealthResponse summarises the latest metric of every known cell.
type FleetHealthResponse struct {
	CellCount     int     `json:"cell_count"`
	PassingCount  int     `json:"passing_count"`
	WarningCount  int     `json:"warning_count"`
	CriticalCount int     `json:"critical_count"`
	AverageSoH    float64 `json:"average_soh"`
}

// ThresholdResponse is one active threshold band.
type ThresholdResponse struct {
	Metric   string   `json:"metric"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Severity string   `json:"severity"`
}

// NoteRequest is the body of POST .../notes.
type NoteRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// toBatchResponse flattens the engine result into its wire form.
func toBatchResponse(res *health.BatchResult) BatchResponse {
	out := BatchResponse{
		MeasurementID: res.MeasurementID,
		Metrics:       res.Metrics,
	}
	if len(res.Failures) > 0 {
		out.Failures = make(map[string]string, len(res.Failures))
		for cell, err := range res.Failures {
			out.Failures[cell] = err.Error()
		}
	}
	for _, re := range res.RowErrors {
		out.RowErrors = append(out.RowErrors, RowErrorResponse{
			Line:   re.Line,
			CellID: re.CellID,
			Error:  re.Err.Error(),
		})
	}
	return out
}

// toFleetHealth aggregates per-cell latest metrics into the fleet summary.
func toFleetHealth(latest []health.HealthMetric) FleetHealthResponse {
	resp := FleetHealthResponse{CellCount: len(latest)}
	if len(latest) == 0 {
		return resp
	}
	var sohSum float64
	for _, m := range latest {
		sohSum += m.SoHPercent
		switch m.Severity {
		case health.SeverityCritical:
			resp.CriticalCount++
		case health.SeverityWarning:
			resp.WarningCount++
		default:
			resp.PassingCount++
		}
	}
	resp.AverageSoH = sohSum / float64(len(latest))
	return resp
}

// note request/response share the store type; alias it for the wire docs.
type NoteResponse = store.Note
