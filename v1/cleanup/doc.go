// Package cleanup reclaims abandoned locks. A background scan walks the
// manager's registry on a fixed interval and force-releases entries whose age
// exceeds the stale timeout, covering holders that crashed or leaked without
// releasing. Reclaims are reported to the health monitor and counted in the
// Prometheus registry.
package cleanup
