package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/mirkobrombin/go-warden/v1/metrics"
	"github.com/mirkobrombin/go-warden/v1/notify"
)

// DefaultAlertSubject is the bus subject alerts are published on.
const DefaultAlertSubject = "warden.alerts"

// Config holds the monitor's alerting thresholds.
type Config struct {
	// MaxDuration flags slow acquisitions and excessively long holds.
	MaxDuration time.Duration
	// MaxAttempts flags acquisitions that needed too many tries.
	MaxAttempts int
	// MaxFailedReleases flags resources whose cumulative release failures
	// reached this count.
	MaxFailedReleases uint64
	// ErrorWindow and ErrorThreshold flag resources accumulating errors:
	// at least ErrorThreshold errors within ErrorWindow raises an alert.
	ErrorWindow    time.Duration
	ErrorThreshold int
	// TimeBucket is the alert deduplication granularity.
	TimeBucket time.Duration
	// Retention bounds the recent-error window and the dedup set.
	Retention time.Duration
	// PruneInterval is how often retained state is pruned.
	PruneInterval time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxDuration:       30 * time.Second,
		MaxAttempts:       5,
		MaxFailedReleases: 3,
		ErrorWindow:       5 * time.Minute,
		ErrorThreshold:    5,
		TimeBucket:        5 * time.Minute,
		Retention:         time.Hour,
		PruneInterval:     time.Hour,
	}
}

type resourceState struct {
	acquisitions       uint64
	releases           uint64
	failedAcquisitions uint64
	failedReleases     uint64
	cleanupReleases    uint64
	totalHeld          time.Duration
	lastOperation      Operation
	lastSeen           time.Time
	recentErrors       []ErrorRecord
}

// Monitor consumes lock operation events, maintains per-resource metrics and
// raises deduplicated alerts on the notification bus.
type Monitor struct {
	cfg     Config
	bus     notify.Bus
	subject string

	mu        sync.Mutex
	resources map[string]*resourceState

	dedup *ristretto.Cache

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithConfig replaces the default thresholds.
func WithConfig(cfg Config) Option {
	return func(m *Monitor) {
		m.cfg = cfg
	}
}

// WithSubject sets the bus subject alerts are published on.
func WithSubject(subject string) Option {
	return func(m *Monitor) {
		if subject != "" {
			m.subject = subject
		}
	}
}

// NewMonitor returns a running Monitor publishing alerts on bus. A nil bus
// falls back to an in-memory bus, which keeps alerts local to the process.
func NewMonitor(bus notify.Bus, opts ...Option) *Monitor {
	if bus == nil {
		bus = notify.NewInMemoryBus()
	}
	m := &Monitor{
		cfg:       DefaultConfig(),
		bus:       bus,
		subject:   DefaultAlertSubject,
		resources: make(map[string]*resourceState),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.PruneInterval <= 0 {
		m.cfg.PruneInterval = DefaultConfig().PruneInterval
	}
	if m.cfg.Retention <= 0 {
		m.cfg.Retention = DefaultConfig().Retention
	}
	dedup, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}
	m.dedup = dedup
	go m.pruneLoop()
	return m
}

// Track implements Tracker. It updates the resource's metric and evaluates
// the alerting thresholds.
func (m *Monitor) Track(resource string, ev Event) {
	now := time.Now()
	var alerts []Alert

	m.mu.Lock()
	st := m.resources[resource]
	if st == nil {
		st = &resourceState{}
		m.resources[resource] = st
	}
	st.lastOperation = ev.Operation
	st.lastSeen = now

	switch ev.Operation {
	case OpAcquire:
		st.acquisitions++
		if m.cfg.MaxDuration > 0 && ev.Duration > m.cfg.MaxDuration {
			alerts = append(alerts, m.newAlert(AlertSlowAcquisition, resource, map[string]any{
				"duration": ev.Duration.String(),
			}))
		}
	case OpAcquireFailed:
		st.failedAcquisitions++
		st.recordError(now, ev)
	case OpRelease:
		st.releases++
		st.totalHeld += ev.Duration
		if m.cfg.MaxDuration > 0 && ev.Duration > m.cfg.MaxDuration {
			alerts = append(alerts, m.newAlert(AlertLongLockDuration, resource, map[string]any{
				"held": ev.Duration.String(),
			}))
		}
	case OpReleaseFailed:
		st.failedReleases++
		st.recordError(now, ev)
		if m.cfg.MaxFailedReleases > 0 && st.failedReleases >= m.cfg.MaxFailedReleases {
			alerts = append(alerts, m.newAlert(AlertMultipleReleaseFailures, resource, map[string]any{
				"failed_releases": st.failedReleases,
			}))
		}
	case OpCleanupRelease:
		st.cleanupReleases++
		st.totalHeld += ev.Duration
		if m.cfg.MaxDuration > 0 && ev.Duration > m.cfg.MaxDuration {
			alerts = append(alerts, m.newAlert(AlertLongLockDuration, resource, map[string]any{
				"held":    ev.Duration.String(),
				"cleanup": true,
			}))
		}
	}

	if ev.Attempts > m.cfg.MaxAttempts && m.cfg.MaxAttempts > 0 {
		alerts = append(alerts, m.newAlert(AlertHighRetryCount, resource, map[string]any{
			"attempts": ev.Attempts,
		}))
	}
	if n := st.errorsSince(now.Add(-m.cfg.ErrorWindow)); m.cfg.ErrorThreshold > 0 && n >= m.cfg.ErrorThreshold {
		alerts = append(alerts, m.newAlert(AlertHighErrorRate, resource, map[string]any{
			"errors": n,
			"window": m.cfg.ErrorWindow.String(),
		}))
	}
	m.mu.Unlock()

	for _, a := range alerts {
		m.publish(a)
	}
}

// Raise emits an alert outside the normal event flow, still subject to
// deduplication. The cleanup service uses it to report critical scan
// failures.
func (m *Monitor) Raise(typ AlertType, resource string, data map[string]any) {
	m.publish(m.newAlert(typ, resource, data))
}

func (m *Monitor) newAlert(typ AlertType, resource string, data map[string]any) Alert {
	id, _ := uuid.GenerateUUID()
	return Alert{
		ID:        id,
		Type:      typ,
		Resource:  resource,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func (m *Monitor) publish(a Alert) {
	bucket := a.Timestamp.Unix()
	if m.cfg.TimeBucket > 0 {
		bucket = a.Timestamp.Unix() / int64(m.cfg.TimeBucket.Seconds())
	}
	key := fmt.Sprintf("%s:%s:%d", a.Type, a.Resource, bucket)
	if _, seen := m.dedup.Get(key); seen {
		return
	}
	m.dedup.SetWithTTL(key, struct{}{}, 1, m.cfg.Retention)
	m.dedup.Wait()

	metrics.AlertsRaised.Inc()
	slog.Warn("warden: lock health alert",
		"type", string(a.Type), "resource", a.Resource, "data", a.Data)

	payload, err := json.Marshal(a)
	if err != nil {
		slog.Error("warden: alert marshal failed", "type", string(a.Type), "error", err)
		return
	}
	if err := m.bus.Publish(context.Background(), m.subject, payload); err != nil {
		slog.Warn("warden: alert publish failed", "type", string(a.Type), "error", err)
	}
}

// Metrics returns a snapshot of one resource's counters.
func (m *Monitor) Metrics(resource string) (Metric, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.resources[resource]
	if !ok {
		return Metric{}, false
	}
	return st.snapshot(), true
}

// AllMetrics returns a snapshot of every tracked resource.
func (m *Monitor) AllMetrics() map[string]Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Metric, len(m.resources))
	for resource, st := range m.resources {
		out[resource] = st.snapshot()
	}
	return out
}

// Prune drops error records older than the retention window. It runs
// periodically but may also be called directly.
func (m *Monitor) Prune() {
	cutoff := time.Now().Add(-m.cfg.Retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.resources {
		st.pruneErrors(cutoff)
	}
}

func (m *Monitor) pruneLoop() {
	ticker := time.NewTicker(m.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Prune()
		case <-m.stop:
			return
		}
	}
}

// Close stops the pruning loop and releases the dedup cache.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.dedup.Close()
	})
}

func (st *resourceState) recordError(now time.Time, ev Event) {
	msg := string(ev.Operation)
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	st.recentErrors = append(st.recentErrors, ErrorRecord{
		At:        now,
		Operation: ev.Operation,
		Message:   msg,
	})
}

func (st *resourceState) errorsSince(cutoff time.Time) int {
	n := 0
	for _, e := range st.recentErrors {
		if e.At.After(cutoff) {
			n++
		}
	}
	return n
}

func (st *resourceState) pruneErrors(cutoff time.Time) {
	kept := st.recentErrors[:0]
	for _, e := range st.recentErrors {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	st.recentErrors = kept
}

func (st *resourceState) snapshot() Metric {
	return Metric{
		Acquisitions:       st.acquisitions,
		Releases:           st.releases,
		FailedAcquisitions: st.failedAcquisitions,
		FailedReleases:     st.failedReleases,
		CleanupReleases:    st.cleanupReleases,
		TotalHeld:          st.totalHeld,
		LastOperation:      st.lastOperation,
		LastSeen:           st.lastSeen,
		RecentErrors:       append([]ErrorRecord(nil), st.recentErrors...),
	}
}
