package health

import "fmt"

// ParseError reports a row field that could not be decoded into its typed
// form. Row-level and non-fatal: the row is recorded and skipped.
type ParseError struct {
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s=%q: %v", e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a decoded sample value that violates a range
// invariant. Row-level and non-fatal.
type ValidationError struct {
	Column string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Column, e.Value, e.Reason)
}

// InsufficientDataError reports that a cell's series cannot support
// resistance estimation — too few load-window samples or numerically
// unstable input. Cell-level, non-fatal to the batch.
type InsufficientDataError struct {
	Samples int
	Reason  string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data (%d samples): %s", e.Samples, e.Reason)
}

// ConfigurationError reports a malformed engine configuration — a bad OCV
// table, a threshold with neither bound, missing baseline/nominal values.
// Fatal to the whole batch: it is surfaced before any per-cell work begins
// and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// RowError ties a rejected input row to the parse or validation error that
// excluded it.
type RowError struct {
	// Line is the 1-based position of the row in the input batch.
	Line int

	// CellID is the row's cell, when the cell_id column itself parsed.
	CellID string

	Err error
}

func (e RowError) Error() string {
	if e.CellID != "" {
		return fmt.Sprintf("row %d (cell %s): %v", e.Line, e.CellID, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }
