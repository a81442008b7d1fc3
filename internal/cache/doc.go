// Package cache keeps the most recent HealthMetric per cell in Redis so the
// dashboard's hot path avoids the store. Entries are JSON with a TTL; a miss
// or an unconfigured cache falls through to the store.
package cache
