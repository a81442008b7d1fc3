// Package api exposes the REST interface: CSV measurement upload into the
// health engine, metric and fleet queries, threshold inspection and
// diagnostic notes. Handlers are thin — all numeric work happens in
// internal/health, all persistence in internal/store.
package api
