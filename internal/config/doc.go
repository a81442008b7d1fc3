// Package config loads the service configuration from config.yaml: HTTP
// port, optional Postgres and Redis endpoints, and the full engine section
// (OCV table, thresholds, SoH weights, per-cell baselines).
//
// Load(path) applies defaults before unmarshalling, then validates — the
// engine section is validated with the same rules ProcessBatch enforces, so
// a config that loads cleanly cannot later fail a batch for configuration
// reasons. Watch re-loads the file on change and keeps the previous
// configuration when a reload fails.
package config
