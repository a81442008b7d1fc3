// Package store persists the engine's per-cell health metrics and their
// diagnostic notes. It defines the Store interface the service layers code
// against, a thread-safe in-memory implementation used by default and in
// tests, and a Postgres implementation backed by a pgx pool.
//
// Metrics are keyed by (measurement_id, cell_id), unique per pair. The
// engine itself never touches the store — persistence is strictly the
// caller's concern.
package store
