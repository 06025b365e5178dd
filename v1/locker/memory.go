package locker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// InMemory implements Locker using local memory. It is mainly useful for
// tests and single-process setups; expiry is evaluated lazily on access.
type InMemory struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
}

// NewInMemory returns a new in-memory locker.
func NewInMemory() *InMemory {
	return &InMemory{locks: make(map[string]memoryEntry)}
}

// TryAcquire implements Locker.TryAcquire.
func (l *InMemory) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[key]; ok && time.Now().Before(e.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = memoryEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return token, true, nil
}

// Release implements Locker.Release.
func (l *InMemory) Release(ctx context.Context, key, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok || e.token != token || time.Now().After(e.expiresAt) {
		return false, nil
	}
	delete(l.locks, key)
	return true, nil
}

// Extend implements Locker.Extend.
func (l *InMemory) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok || e.token != token || time.Now().After(e.expiresAt) {
		return false, nil
	}
	e.expiresAt = time.Now().Add(ttl)
	l.locks[key] = e
	return true, nil
}

// Current implements Locker.Current.
func (l *InMemory) Current(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.token, true, nil
}
