package health

import "time"

// AlertType classifies a threshold breach.
type AlertType string

const (
	AlertSlowAcquisition         AlertType = "SLOW_ACQUISITION"
	AlertLongLockDuration        AlertType = "LONG_LOCK_DURATION"
	AlertHighRetryCount          AlertType = "HIGH_RETRY_COUNT"
	AlertMultipleReleaseFailures AlertType = "MULTIPLE_RELEASE_FAILURES"
	AlertHighErrorRate           AlertType = "HIGH_ERROR_RATE"
	AlertCleanupCriticalError    AlertType = "CLEANUP_CRITICAL_ERROR"
)

// Alert is a deduplicated health notification. Identity for deduplication is
// (Type, Resource, time bucket): a sustained breach produces one alert per
// bucket, not one per occurrence.
type Alert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Resource  string         `json:"resource"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
