package locker

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTTL is returned when a non-positive TTL is provided.
var ErrInvalidTTL = errors.New("warden: lock ttl must be positive")

// ErrEmptyKey is returned when the lock key is empty.
var ErrEmptyKey = errors.New("warden: lock key must not be empty")

// Locker is the narrow primitive the lock manager builds on. Implementations
// provide atomic set-if-absent-with-expiry and token-matched delete/extend
// against a shared store, so the backing primitive (single-node SET NX,
// a Redlock quorum, or an in-memory map) is swappable without touching the
// manager, monitor or cleanup service.
//
// The token returned by TryAcquire is the fencing token: Release and Extend
// only act when the store still holds that exact token, so a holder can
// never mutate a lock it no longer owns.
type Locker interface {
	// TryAcquire attempts a single non-blocking acquisition of key with the
	// given TTL. It returns (token, true, nil) on success and ("", false, nil)
	// when the key is held by another owner. Retry policy belongs to the
	// caller.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// Release deletes key only if the store still holds token. It returns
	// false when the token no longer matches (expired or taken over), which
	// is not an error.
	Release(ctx context.Context, key, token string) (bool, error)

	// Extend resets the TTL of key only if the store still holds token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Current reads the token currently stored for key, if any. Used to
	// re-verify ownership before a forced reclamation.
	Current(ctx context.Context, key string) (string, bool, error)
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
