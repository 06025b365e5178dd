package locker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrNoClients is returned when a Redsync locker is created without clients.
var ErrNoClients = errors.New("warden: at least one redis client is required")

const defaultDriftFactor = 0.01

// Redsync implements Locker over one or more Redis nodes using the Redlock
// algorithm via go-redsync. With a single node it degenerates to plain
// SET NX semantics; with several nodes an acquisition must win a majority.
//
// Each call performs a single try: the manager owns the retry policy, so the
// underlying mutex is always created with one attempt.
type Redsync struct {
	rs      *redsync.Redsync
	clients []redis.UniversalClient
	drift   float64
}

// RedsyncOption configures a Redsync locker.
type RedsyncOption func(*Redsync)

// WithDriftFactor sets the clock drift factor used to discount the validity
// window of an acquired lock.
func WithDriftFactor(f float64) RedsyncOption {
	return func(r *Redsync) {
		if f > 0 {
			r.drift = f
		}
	}
}

// NewRedsync returns a quorum locker over the provided clients.
func NewRedsync(clients []redis.UniversalClient, opts ...RedsyncOption) (*Redsync, error) {
	if len(clients) == 0 {
		return nil, ErrNoClients
	}
	pools := make([]rsredis.Pool, len(clients))
	for i, c := range clients {
		if c == nil {
			return nil, ErrNoClients
		}
		pools[i] = goredis.NewPool(c)
	}
	r := &Redsync{rs: redsync.New(pools...), clients: clients, drift: defaultDriftFactor}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TryAcquire implements Locker.TryAcquire.
func (r *Redsync) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	token := uuid.NewString()
	mutex := r.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
		redsync.WithDriftFactor(r.drift),
		redsync.WithGenValueFunc(func() (string, error) { return token, nil }),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return "", false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		return "", false, err
	}
	return token, true, nil
}

// Release implements Locker.Release.
func (r *Redsync) Release(ctx context.Context, key, token string) (bool, error) {
	mutex := r.rs.NewMutex(key, redsync.WithValue(token))
	ok, err := mutex.UnlockContext(ctx)
	if err != nil {
		if errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// Extend implements Locker.Extend.
func (r *Redsync) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	mutex := r.rs.NewMutex(key, redsync.WithValue(token), redsync.WithExpiry(ttl))
	ok, err := mutex.ExtendContext(ctx)
	if err != nil {
		if errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// Current implements Locker.Current. The token is read from every node and
// the value held by a majority wins, matching the quorum the lock itself
// requires.
func (r *Redsync) Current(ctx context.Context, key string) (string, bool, error) {
	counts := make(map[string]int)
	var lastErr error
	for _, c := range r.clients {
		val, err := c.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			lastErr = err
			continue
		}
		counts[val]++
	}
	quorum := len(r.clients)/2 + 1
	for val, n := range counts {
		if n >= quorum {
			return val, true, nil
		}
	}
	if len(counts) == 0 && lastErr != nil {
		return "", false, lastErr
	}
	return "", false, nil
}

// Health pings every node and returns the first failure.
func (r *Redsync) Health(ctx context.Context) error {
	for _, c := range r.clients {
		if err := c.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
