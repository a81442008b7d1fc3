// Package health implements the battery health processing engine: it turns a
// batch of raw timestamped BMS rows into per-cell health metrics (SoC, SoH,
// internal resistance) classified against configured severity thresholds.
//
// The engine is pure and synchronous — all inputs (rows, OCV table,
// thresholds, per-cell baselines) arrive in memory, and no component performs
// network or disk I/O. ProcessBatch is the single entry point.
package health
