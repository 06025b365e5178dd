package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-warden/v1/health"
	"github.com/mirkobrombin/go-warden/v1/manager"
	"github.com/mirkobrombin/go-warden/v1/metrics"
)

// Registry is the slice of the lock manager the service needs: a snapshot of
// held locks and the guarded forced release.
type Registry interface {
	ActiveLocks() []manager.LockInfo
	ForceRelease(ctx context.Context, resource string) (bool, error)
}

// Alerter receives out-of-band alerts for critical scan failures. The health
// monitor satisfies it.
type Alerter interface {
	Raise(typ health.AlertType, resource string, data map[string]any)
}

// Config tunes the background scan.
type Config struct {
	// Interval between scans.
	Interval time.Duration
	// StaleTimeout is the age past which a registry entry is considered
	// abandoned and eligible for forced release.
	StaleTimeout time.Duration
	// Retention bounds how long scan errors are kept for Stats.
	Retention time.Duration
}

// DefaultConfig returns the scan defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		StaleTimeout: 5 * time.Minute,
		Retention:    time.Hour,
	}
}

// ScanError is one failure observed during a scan, kept for Retention.
type ScanError struct {
	At       time.Time
	Resource string
	Message  string
}

// Stats is a snapshot of the service's activity.
type Stats struct {
	LastRun           time.Time
	CleanupsPerformed uint64
	LocksReleased     uint64
	Errors            []ScanError
}

// Service periodically scans the lock registry and force-releases entries
// older than StaleTimeout. The forced release re-verifies the stored token,
// so a lock that expired and was legitimately re-acquired by another holder
// is dropped from the registry without touching the store.
type Service struct {
	cfg      Config
	registry Registry
	tracker  health.Tracker
	alerter  Alerter

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	stats  Stats
	errors []ScanError
}

// Option configures a Service.
type Option func(*Service)

// WithTracker wires the event sink that receives one cleanup_release event
// per reclaimed lock.
func WithTracker(t health.Tracker) Option {
	return func(s *Service) {
		s.tracker = t
	}
}

// WithAlerter wires the alert sink for critical scan failures.
func WithAlerter(a Alerter) Option {
	return func(s *Service) {
		s.alerter = a
	}
}

// New creates a Service over the given registry. Call Start to begin
// scanning.
func New(registry Registry, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = def.StaleTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	s := &Service{
		cfg:      cfg,
		registry: registry,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background scan loop. Starting twice is a no-op.
func (s *Service) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.loop()
}

// Stop halts the scan loop and waits for the in-flight scan to finish. It is
// safe to call more than once, or without a prior Start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *Service) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Run(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Run performs one scan: every registry entry older than StaleTimeout is
// force-released. A panic in the scan is contained and raised as a critical
// alert rather than taking the process down.
func (s *Service) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("warden: cleanup scan panicked", "panic", r)
			s.recordError("", fmt.Sprintf("panic: %v", r))
			if s.alerter != nil {
				s.alerter.Raise(health.AlertCleanupCriticalError, "", map[string]any{
					"panic": fmt.Sprint(r),
				})
			}
		}
	}()

	var released uint64
	for _, lock := range s.registry.ActiveLocks() {
		if lock.Age <= s.cfg.StaleTimeout {
			continue
		}
		freed, err := s.registry.ForceRelease(ctx, lock.Resource)
		if err != nil {
			slog.Warn("warden: forced release failed",
				"resource", lock.Resource, "age", lock.Age, "error", err)
			s.recordError(lock.Resource, err.Error())
			continue
		}
		if !freed {
			// Re-acquired by another holder; the registry entry was
			// already dropped by the manager.
			continue
		}
		released++
		metrics.CleanupReleases.Inc()
		slog.Info("warden: reclaimed stale lock",
			"resource", lock.Resource, "age", lock.Age)
		if s.tracker != nil {
			s.tracker.Track(lock.Resource, health.Event{
				Operation: health.OpCleanupRelease,
				Duration:  lock.Age,
			})
		}
	}

	s.mu.Lock()
	s.stats.LastRun = time.Now()
	s.stats.CleanupsPerformed++
	s.stats.LocksReleased += released
	s.mu.Unlock()
}

// ForceCleanup reclaims a single resource immediately, regardless of age.
// It reports whether the lock was freed.
func (s *Service) ForceCleanup(ctx context.Context, resource string) (bool, error) {
	freed, err := s.registry.ForceRelease(ctx, resource)
	if err != nil {
		s.recordError(resource, err.Error())
		return false, err
	}
	if freed {
		metrics.CleanupReleases.Inc()
		if s.tracker != nil {
			s.tracker.Track(resource, health.Event{Operation: health.OpCleanupRelease})
		}
	}
	return freed, nil
}

// Stats returns a snapshot of the service's activity, with errors older than
// Retention pruned.
func (s *Service) Stats() Stats {
	cutoff := time.Now().Add(-s.cfg.Retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.errors[:0]
	for _, e := range s.errors {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.errors = kept
	out := s.stats
	out.Errors = append([]ScanError(nil), s.errors...)
	return out
}

func (s *Service) recordError(resource, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, ScanError{At: time.Now(), Resource: resource, Message: msg})
}
