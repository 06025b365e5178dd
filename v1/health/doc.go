// Package health observes lock operations, computes per-resource contention
// and failure metrics, and raises deduplicated alerts on a notification bus.
package health
