package locker

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-warden/v1/locker")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

const defaultRedisOpTimeout = 5 * time.Second

// Redis implements Locker against a single Redis node using SET NX PX with
// uuid fencing tokens and Lua compare-and-delete / compare-and-extend.
type Redis struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTimeout sets the per-operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRedis returns a new Redis locker using the provided client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryAcquire implements Locker.TryAcquire.
func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	ctx, span := tracer.Start(ctx, "locker.TryAcquire", trace.WithAttributes(attribute.String("lock.key", key)))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	token := uuid.NewString()
	ok, err := r.client.SetNX(cctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release implements Locker.Release.
func (r *Redis) Release(ctx context.Context, key, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "locker.Release", trace.WithAttributes(attribute.String("lock.key", key)))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := releaseScript.Run(cctx, r.client, []string{key}, token).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Extend implements Locker.Extend.
func (r *Redis) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	ctx, span := tracer.Start(ctx, "locker.Extend", trace.WithAttributes(attribute.String("lock.key", key)))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := extendScript.Run(cctx, r.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Current implements Locker.Current.
func (r *Redis) Current(ctx context.Context, key string) (string, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	val, err := r.client.Get(cctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
