package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireAttempts tracks lock acquisition attempts.
	AcquireAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_acquire_attempts_total",
		Help: "Total number of lock acquisition attempts",
	})
	// AcquireSuccesses tracks successful lock acquisitions.
	AcquireSuccesses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_acquire_successes_total",
		Help: "Total number of successful lock acquisitions",
	})
	// AcquireFailures tracks lock acquisitions that exhausted their retries.
	AcquireFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_acquire_failures_total",
		Help: "Total number of failed lock acquisitions",
	})
	// ReleaseSuccesses tracks successful lock releases, including forced
	// cleanup releases.
	ReleaseSuccesses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_release_successes_total",
		Help: "Total number of successful lock releases",
	})
	// ReleaseFailures tracks failed lock releases.
	ReleaseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_release_failures_total",
		Help: "Total number of failed lock releases",
	})
	// ExtendAttempts tracks lock extension attempts.
	ExtendAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_extend_attempts_total",
		Help: "Total number of lock extension attempts",
	})
	// ExtendSuccesses tracks successful lock extensions.
	ExtendSuccesses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_extend_successes_total",
		Help: "Total number of successful lock extensions",
	})
	// ExtendFailures tracks failed lock extensions.
	ExtendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_extend_failures_total",
		Help: "Total number of failed lock extensions",
	})
	// CleanupReleases tracks stale locks reclaimed by the cleanup service.
	CleanupReleases = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_cleanup_releases_total",
		Help: "Total number of stale locks force-released by cleanup",
	})
	// ActiveLocks reports the number of locks currently held by this process.
	ActiveLocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_active_locks",
		Help: "Current number of locks held in the local registry",
	})
	// AlertsRaised tracks health alerts after deduplication.
	AlertsRaised = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_alerts_total",
		Help: "Total number of health alerts raised",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers warden lock metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		AcquireAttempts, AcquireSuccesses, AcquireFailures,
		ReleaseSuccesses, ReleaseFailures,
		ExtendAttempts, ExtendSuccesses, ExtendFailures,
		CleanupReleases, ActiveLocks, AlertsRaised,
	)
}
