package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mirkobrombin/go-warden/v1/health"
	"github.com/mirkobrombin/go-warden/v1/locker"
)

type recordingTracker struct {
	mu     sync.Mutex
	events []struct {
		resource string
		ev       health.Event
	}
}

func (r *recordingTracker) Track(resource string, ev health.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, struct {
		resource string
		ev       health.Event
	}{resource, ev})
}

func (r *recordingTracker) ops() []health.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]health.Operation, len(r.events))
	for i, e := range r.events {
		out[i] = e.ev.Operation
	}
	return out
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *recordingTracker, context.Context) {
	t.Helper()
	tracker := &recordingTracker{}
	m := New(cfg, WithLocker(locker.NewInMemory()), WithTracker(tracker))
	ctx := context.Background()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m, tracker, ctx
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryCount = 2
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.RetryJitter = 2 * time.Millisecond
	return cfg
}

func TestAcquireReleaseCycle(t *testing.T) {
	m, tracker, ctx := newTestManager(t, fastConfig())

	token, err := m.Acquire(ctx, "user:42:bridge-init", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token == "" {
		t.Fatal("expected fencing token")
	}
	if len(m.ActiveLocks()) != 1 {
		t.Fatalf("registry entries = %d", len(m.ActiveLocks()))
	}
	if err := m.Release(ctx, "user:42:bridge-init"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(m.ActiveLocks()) != 0 {
		t.Fatal("registry not cleaned after release")
	}

	ops := tracker.ops()
	if len(ops) != 2 || ops[0] != health.OpAcquire || ops[1] != health.OpRelease {
		t.Fatalf("unexpected events %v", ops)
	}
}

func TestMutualExclusion(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryCount = 0
	m, _, ctx := newTestManager(t, cfg)

	const n = 5
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Acquire(ctx, "concurrent-lock", 30*time.Second)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
		} else if errors.Is(err, ErrAcquisitionFailed) {
			failures++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || failures != n-1 {
		t.Fatalf("successes=%d failures=%d, want 1 and %d", successes, failures, n-1)
	}
}

func TestLivenessAfterRelease(t *testing.T) {
	m, _, ctx := newTestManager(t, fastConfig())

	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := m.Release(ctx, "r"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLivenessAfterTTLExpiry(t *testing.T) {
	cfg := fastConfig()
	m, _, ctx := newTestManager(t, cfg)

	if _, err := m.Acquire(ctx, "r", 10*time.Millisecond); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("acquire after ttl expiry: %v", err)
	}
}

func TestIdempotentRelease(t *testing.T) {
	m, tracker, ctx := newTestManager(t, fastConfig())

	if err := m.Release(ctx, "never-held"); err != nil {
		t.Fatalf("release of unheld resource must not fail: %v", err)
	}
	if len(tracker.ops()) != 0 {
		t.Fatal("no-op release must not emit events")
	}

	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, "r"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Release(ctx, "r"); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}
}

func TestRetryWinsWhenLockFrees(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryCount = 10
	m, _, ctx := newTestManager(t, cfg)

	// Held with a short TTL; the retry loop should win once it lapses.
	if _, err := m.Acquire(ctx, "r", 20*time.Millisecond); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	start := time.Now()
	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("contended acquire should win after expiry: %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("second acquire should have waited for the TTL")
	}
}

func TestAcquireReportsAttempts(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryCount = 2
	m, tracker, ctx := newTestManager(t, cfg)

	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err := m.Acquire(ctx, "r", time.Minute)
	if !errors.Is(err, ErrAcquisitionFailed) {
		t.Fatalf("expected ErrAcquisitionFailed, got %v", err)
	}

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	last := tracker.events[len(tracker.events)-1]
	if last.ev.Operation != health.OpAcquireFailed {
		t.Fatalf("last event %s", last.ev.Operation)
	}
	if last.ev.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", last.ev.Attempts)
	}
	if last.ev.Err == nil {
		t.Fatal("failed acquisition event should carry the error")
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	m, _, ctx := newTestManager(t, fastConfig())

	boom := errors.New("network error")
	err := m.WithLock(ctx, "user:7:token-refresh", 5*time.Second, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("operation error must propagate unchanged, got %v", err)
	}
	// The lock must be free immediately afterwards.
	if _, err := m.Acquire(ctx, "user:7:token-refresh", 5*time.Second); err != nil {
		t.Fatalf("acquire after failed operation: %v", err)
	}
}

func TestWithLockReleasesOnSuccess(t *testing.T) {
	m, _, ctx := newTestManager(t, fastConfig())

	var ran bool
	if err := m.WithLock(ctx, "r", time.Minute, func(ctx context.Context) error {
		ran = true
		if len(m.ActiveLocks()) != 1 {
			t.Error("lock not held during operation")
		}
		return nil
	}); err != nil {
		t.Fatalf("withlock: %v", err)
	}
	if !ran {
		t.Fatal("operation did not run")
	}
	if len(m.ActiveLocks()) != 0 {
		t.Fatal("lock not released after operation")
	}
}

func TestDoReturnsValue(t *testing.T) {
	m, _, ctx := newTestManager(t, fastConfig())

	got, err := Do(ctx, m, "r", time.Minute, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("do: got=%d err=%v", got, err)
	}
}

func TestExtend(t *testing.T) {
	m, _, ctx := newTestManager(t, fastConfig())

	if err := m.Extend(ctx, "r"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("extend of unheld resource: %v", err)
	}
	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Extend(ctx, "r"); err != nil {
		t.Fatalf("extend: %v", err)
	}
	counters := m.Counters()
	if counters[MetricExtensionAttempt] != 1 || counters[MetricExtensionSuccess] != 1 {
		t.Fatalf("extension counters: %v", counters)
	}
}

func TestForceReleaseReverifiesToken(t *testing.T) {
	backend := locker.NewInMemory()
	m := New(fastConfig(), WithLocker(backend))
	ctx := context.Background()

	token, err := m.Acquire(ctx, "r", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// The store-side TTL lapses and another holder re-acquires the key
	// while our registry entry lingers.
	time.Sleep(30 * time.Millisecond)
	newToken, ok, err := backend.TryAcquire(ctx, "lock:r", time.Minute)
	if err != nil || !ok {
		t.Fatalf("re-acquire by other holder: %v ok=%v", err, ok)
	}
	if newToken == token {
		t.Fatal("expected a fresh fencing token")
	}

	freed, err := m.ForceRelease(ctx, "r")
	if err != nil {
		t.Fatalf("force release: %v", err)
	}
	if freed {
		t.Fatal("force release must not reclaim a re-acquired lock")
	}
	// The new holder's lock must survive.
	if cur, ok, _ := backend.Current(ctx, "lock:r"); !ok || cur != newToken {
		t.Fatalf("new holder's lock was damaged, cur=%q ok=%v", cur, ok)
	}
	// The stale registry entry must be gone.
	if len(m.ActiveLocks()) != 0 {
		t.Fatal("stale registry entry not dropped")
	}
}

func TestForceReleaseFreesHeldLock(t *testing.T) {
	m, _, ctx := newTestManager(t, fastConfig())

	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	freed, err := m.ForceRelease(ctx, "r")
	if err != nil || !freed {
		t.Fatalf("force release: %v freed=%v", err, freed)
	}
	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("acquire after force release: %v", err)
	}

	if freed, err := m.ForceRelease(ctx, "unknown"); err != nil || freed {
		t.Fatalf("force release of unknown resource: %v freed=%v", err, freed)
	}
}

func TestContentionRate(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryCount = 0
	m, _, ctx := newTestManager(t, cfg)

	if rate := m.Report().ContentionRate; rate != 0 {
		t.Fatalf("initial contention rate = %f", rate)
	}
	if _, err := m.Acquire(ctx, "r", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if rate := m.Report().ContentionRate; rate != 0 {
		t.Fatalf("contention rate with no failures = %f", rate)
	}

	var prev float64
	for i := 0; i < 3; i++ {
		_, _ = m.Acquire(ctx, "r", time.Minute)
		rate := m.Report().ContentionRate
		if rate <= prev {
			t.Fatalf("contention rate should rise with failures: %f -> %f", prev, rate)
		}
		prev = rate
	}
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	m := New(DefaultConfig())
	if err := m.Initialize(ctx); !errors.Is(err, ErrNoLocker) {
		t.Fatalf("expected ErrNoLocker, got %v", err)
	}

	m = New(DefaultConfig(), WithLocker(locker.NewInMemory()))
	for i := 0; i < 3; i++ {
		if err := m.Initialize(ctx); err != nil {
			t.Fatalf("initialize %d: %v", i, err)
		}
	}
}

func TestAcquireEmptyResource(t *testing.T) {
	m, _, ctx := newTestManager(t, fastConfig())
	if _, err := m.Acquire(ctx, "", time.Minute); !errors.Is(err, ErrEmptyResource) {
		t.Fatalf("expected ErrEmptyResource, got %v", err)
	}
}
