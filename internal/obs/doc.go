// Package obs exposes Prometheus instrumentation for the processing
// service: batch and per-cell counters plus a batch-duration histogram,
// served on /metrics.
package obs
