package manager

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-warden/v1/health"
	"github.com/mirkobrombin/go-warden/v1/locker"
	"github.com/mirkobrombin/go-warden/v1/metrics"
)

// Global counter names exposed through Counters and Report.
const (
	MetricAcquisitionAttempt = "acquisition_attempt"
	MetricAcquisitionSuccess = "acquisition_success"
	MetricAcquisitionFailure = "acquisition_failure"
	MetricReleaseSuccess     = "release_success"
	MetricReleaseFailure     = "release_failure"
	MetricExtensionAttempt   = "extension_attempt"
	MetricExtensionSuccess   = "extension_success"
	MetricExtensionFailure   = "extension_failure"
)

// Config tunes the manager's retry and TTL behavior.
type Config struct {
	// KeyPrefix namespaces lock keys in the shared store.
	KeyPrefix string
	// DefaultTTL is used when Acquire is called with a non-positive TTL.
	DefaultTTL time.Duration
	// RetryCount is the number of additional tries after the first
	// contended attempt.
	RetryCount int
	// RetryDelay and RetryJitter shape the backoff between tries:
	// each sleep is RetryDelay plus or minus a random jitter.
	RetryDelay  time.Duration
	RetryJitter time.Duration
	// DriftFactor is handed to the quorum locker built by Initialize.
	DriftFactor float64
	// AutoExtendThreshold enables background extension inside WithLock:
	// when the remaining TTL falls below it, the lock is extended until the
	// protected operation returns. Zero disables auto-extension.
	AutoExtendThreshold time.Duration
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   "lock:",
		DefaultTTL:  5 * time.Minute,
		RetryCount:  3,
		RetryDelay:  200 * time.Millisecond,
		RetryJitter: 100 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// ActiveLock is one registry entry: a lock this process currently believes
// it holds. The token is the fencing token returned by the store.
type ActiveLock struct {
	Resource   string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration
}

// Manager grants time-bounded exclusive ownership of named resources across
// processes sharing a store. The in-process registry mirrors currently held
// locks; the store remains the single source of truth and the registry is
// reconciled by TTL expiry plus the cleanup scan.
type Manager struct {
	cfg     Config
	tracker health.Tracker
	clients []redis.UniversalClient

	initGroup   singleflight.Group
	initialized atomic.Bool
	lockerMu    sync.RWMutex
	locker      locker.Locker

	mu       sync.Mutex
	active   map[string]ActiveLock
	counters map[string]uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker injects a prebuilt locking primitive; Initialize then has
// nothing to build.
func WithLocker(l locker.Locker) Option {
	return func(m *Manager) {
		m.locker = l
	}
}

// WithClients provides the redis clients Initialize builds the quorum
// locker from. One client yields plain SET NX semantics, several yield a
// Redlock quorum.
func WithClients(clients ...redis.UniversalClient) Option {
	return func(m *Manager) {
		m.clients = clients
	}
}

// WithTracker wires the health monitor (or any Tracker) that receives one
// event per lock operation.
func WithTracker(t health.Tracker) Option {
	return func(m *Manager) {
		m.tracker = t
	}
}

// New creates a Manager. Call Initialize before use, or let the first
// Acquire do it.
func New(cfg Config, opts ...Option) *Manager {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "lock:"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	m := &Manager{
		cfg:      cfg,
		active:   make(map[string]ActiveLock),
		counters: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize builds the locking primitive. It is idempotent and
// single-flight: concurrent callers share one initialization.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.initialized.Load() {
		return nil
	}
	_, err, _ := m.initGroup.Do("init", func() (any, error) {
		if m.initialized.Load() {
			return nil, nil
		}
		m.lockerMu.Lock()
		defer m.lockerMu.Unlock()
		if m.locker == nil {
			if len(m.clients) == 0 {
				return nil, ErrNoLocker
			}
			l, err := locker.NewRedsync(m.clients, locker.WithDriftFactor(m.cfg.DriftFactor))
			if err != nil {
				return nil, err
			}
			if err := l.Health(ctx); err != nil {
				return nil, err
			}
			m.locker = l
		}
		m.initialized.Store(true)
		return nil, nil
	})
	return err
}

func (m *Manager) backend() locker.Locker {
	m.lockerMu.RLock()
	defer m.lockerMu.RUnlock()
	return m.locker
}

func (m *Manager) key(resource string) string {
	return m.cfg.KeyPrefix + resource
}

// Acquire attempts exclusive acquisition of resource for ttl. On contention
// it retries up to RetryCount times with jittered delay before failing with
// ErrAcquisitionFailed. On success it returns the fencing token and records
// the lock in the registry.
func (m *Manager) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	if resource == "" {
		return "", ErrEmptyResource
	}
	if err := m.Initialize(ctx); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	start := time.Now()
	m.count(MetricAcquisitionAttempt)

	key := m.key(resource)
	tries := m.cfg.RetryCount + 1
	backend := m.backend()

	var lastErr error
	for attempt := 1; attempt <= tries; attempt++ {
		token, ok, err := backend.TryAcquire(ctx, key, ttl)
		if err != nil {
			lastErr = err
			break
		}
		if ok {
			m.mu.Lock()
			m.active[resource] = ActiveLock{
				Resource:   resource,
				Token:      token,
				AcquiredAt: time.Now(),
				TTL:        ttl,
			}
			m.mu.Unlock()
			metrics.ActiveLocks.Inc()
			m.count(MetricAcquisitionSuccess)
			m.track(resource, health.Event{
				Operation: health.OpAcquire,
				Duration:  time.Since(start),
				Attempts:  attempt,
			})
			return token, nil
		}
		if attempt == tries {
			break
		}
		select {
		case <-time.After(m.jitteredDelay()):
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		if lastErr != nil {
			break
		}
	}

	m.count(MetricAcquisitionFailure)
	err := fmt.Errorf("%w: resource %q after %d attempts", ErrAcquisitionFailed, resource, tries)
	if lastErr != nil {
		err = fmt.Errorf("%w: resource %q: %w", ErrAcquisitionFailed, resource, lastErr)
	}
	m.track(resource, health.Event{
		Operation: health.OpAcquireFailed,
		Duration:  time.Since(start),
		Attempts:  tries,
		Err:       err,
	})
	return "", err
}

// Release frees resource. Releasing a resource this manager does not hold is
// a logged no-op: releasing twice, or releasing something already expired,
// is not an error. A store failure is returned to the caller and the
// registry entry is kept so the cleanup scan can reconcile it later.
func (m *Manager) Release(ctx context.Context, resource string) error {
	m.mu.Lock()
	entry, ok := m.active[resource]
	m.mu.Unlock()
	if !ok {
		slog.Debug("warden: release of unheld resource", "resource", resource)
		return nil
	}

	held := time.Since(entry.AcquiredAt)
	released, err := m.backend().Release(ctx, m.key(resource), entry.Token)
	if err != nil {
		m.count(MetricReleaseFailure)
		m.track(resource, health.Event{
			Operation: health.OpReleaseFailed,
			Duration:  held,
			Err:       err,
		})
		return fmt.Errorf("%w: resource %q: %w", ErrReleaseFailed, resource, err)
	}

	m.drop(resource)
	if !released {
		// The token no longer matched: the lock expired or was taken over
		// while we believed we held it. The registry entry was stale.
		m.count(MetricReleaseFailure)
		m.track(resource, health.Event{
			Operation: health.OpReleaseFailed,
			Duration:  held,
			Err:       ErrNotHeld,
		})
		return nil
	}
	m.count(MetricReleaseSuccess)
	m.track(resource, health.Event{
		Operation: health.OpRelease,
		Duration:  held,
	})
	return nil
}

// Extend resets the TTL of a held lock to the TTL it was acquired with.
func (m *Manager) Extend(ctx context.Context, resource string) error {
	m.mu.Lock()
	entry, ok := m.active[resource]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: resource %q", ErrNotHeld, resource)
	}

	m.count(MetricExtensionAttempt)
	extended, err := m.backend().Extend(ctx, m.key(resource), entry.Token, entry.TTL)
	if err != nil {
		m.count(MetricExtensionFailure)
		return fmt.Errorf("%w: resource %q: %w", ErrExtendFailed, resource, err)
	}
	if !extended {
		// Ownership is gone; forget the stale entry.
		m.drop(resource)
		m.count(MetricExtensionFailure)
		return fmt.Errorf("%w: resource %q", ErrNotHeld, resource)
	}
	m.count(MetricExtensionSuccess)
	return nil
}

// ForceRelease reclaims a registry entry without requiring the caller to be
// the holder, re-verifying the stored token first so a lock that was
// legitimately re-acquired by someone else is never deleted. It returns true
// when the resource was freed (or had already expired in the store) and
// false when it was not found or is now owned by another holder.
func (m *Manager) ForceRelease(ctx context.Context, resource string) (bool, error) {
	m.mu.Lock()
	entry, ok := m.active[resource]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	key := m.key(resource)
	backend := m.backend()
	current, found, err := backend.Current(ctx, key)
	if err != nil {
		m.count(MetricReleaseFailure)
		return false, fmt.Errorf("%w: resource %q: %w", ErrReleaseFailed, resource, err)
	}
	if found && current != entry.Token {
		// A new holder re-acquired the resource after our entry went stale.
		slog.Info("warden: skipping forced release, lock re-acquired elsewhere", "resource", resource)
		m.drop(resource)
		return false, nil
	}
	if found {
		if _, err := backend.Release(ctx, key, entry.Token); err != nil {
			m.count(MetricReleaseFailure)
			return false, fmt.Errorf("%w: resource %q: %w", ErrReleaseFailed, resource, err)
		}
	}
	m.drop(resource)
	m.count(MetricReleaseSuccess)
	return true, nil
}

func (m *Manager) drop(resource string) {
	m.mu.Lock()
	_, ok := m.active[resource]
	delete(m.active, resource)
	m.mu.Unlock()
	if ok {
		metrics.ActiveLocks.Dec()
	}
}

func (m *Manager) jitteredDelay() time.Duration {
	delay := m.cfg.RetryDelay
	if m.cfg.RetryJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(2*m.cfg.RetryJitter+1))) - m.cfg.RetryJitter
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (m *Manager) track(resource string, ev health.Event) {
	if m.tracker != nil {
		m.tracker.Track(resource, ev)
	}
}

func (m *Manager) count(name string) {
	m.mu.Lock()
	m.counters[name]++
	m.mu.Unlock()

	switch name {
	case MetricAcquisitionAttempt:
		metrics.AcquireAttempts.Inc()
	case MetricAcquisitionSuccess:
		metrics.AcquireSuccesses.Inc()
	case MetricAcquisitionFailure:
		metrics.AcquireFailures.Inc()
	case MetricReleaseSuccess:
		metrics.ReleaseSuccesses.Inc()
	case MetricReleaseFailure:
		metrics.ReleaseFailures.Inc()
	case MetricExtensionAttempt:
		metrics.ExtendAttempts.Inc()
	case MetricExtensionSuccess:
		metrics.ExtendSuccesses.Inc()
	case MetricExtensionFailure:
		metrics.ExtendFailures.Inc()
	}
}
