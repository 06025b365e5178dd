package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WithLock acquires resource, runs fn while holding it and unconditionally
// attempts the release afterwards. fn's error is always what propagates; a
// failure of the release step is logged and swallowed so it never masks the
// protected operation's outcome.
func (m *Manager) WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if _, err := m.Acquire(ctx, resource, ttl); err != nil {
		return err
	}

	stopExtend := func() {}
	if m.cfg.AutoExtendThreshold > 0 {
		stopExtend = m.autoExtend(ctx, resource, ttl)
	}
	defer func() {
		stopExtend()
		// Release must run even when ctx was cancelled by the operation.
		if err := m.Release(context.WithoutCancel(ctx), resource); err != nil {
			slog.Warn("warden: release after protected operation failed",
				"resource", resource, "error", err)
		}
	}()
	return fn(ctx)
}

// Do runs fn under the lock and returns its value, for operations that
// produce a result.
func Do[T any](ctx context.Context, m *Manager, resource string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.WithLock(ctx, resource, ttl, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// autoExtend keeps a lock alive while the protected operation runs,
// extending whenever the remaining TTL falls below the configured threshold.
// The returned func stops the extender and is safe to call more than once.
func (m *Manager) autoExtend(ctx context.Context, resource string, ttl time.Duration) func() {
	interval := ttl - m.cfg.AutoExtendThreshold
	if interval <= 0 {
		interval = ttl / 2
	}
	if interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Extend(ctx, resource); err != nil {
					slog.Warn("warden: auto-extend failed", "resource", resource, "error", err)
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		once.Do(func() { close(stop) })
	}
}
