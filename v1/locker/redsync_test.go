package locker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedsyncLocker(t *testing.T, nodes int) (*Redsync, context.Context) {
	t.Helper()
	clients := make([]redis.UniversalClient, nodes)
	for i := range clients {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis run: %v", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		clients[i] = client
		t.Cleanup(func() {
			_ = client.Close()
			mr.Close()
		})
	}
	l, err := NewRedsync(clients)
	if err != nil {
		t.Fatalf("new redsync: %v", err)
	}
	return l, context.Background()
}

func TestRedsyncSingleNode(t *testing.T) {
	l, ctx := newRedsyncLocker(t, 1)

	token, ok, err := l.TryAcquire(ctx, "lock:k", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("tryacquire: %v ok=%v token=%q", err, ok, token)
	}
	if _, ok, err := l.TryAcquire(ctx, "lock:k", time.Minute); err != nil || ok {
		t.Fatalf("expected contention, ok=%v err=%v", ok, err)
	}
	if cur, ok, err := l.Current(ctx, "lock:k"); err != nil || !ok || cur != token {
		t.Fatalf("current: %v ok=%v cur=%q want %q", err, ok, cur, token)
	}
	released, err := l.Release(ctx, "lock:k", token)
	if err != nil || !released {
		t.Fatalf("release: %v released=%v", err, released)
	}
	if _, ok, err := l.TryAcquire(ctx, "lock:k", time.Minute); err != nil || !ok {
		t.Fatalf("expected lock free after release, ok=%v err=%v", ok, err)
	}
}

func TestRedsyncQuorum(t *testing.T) {
	l, ctx := newRedsyncLocker(t, 3)

	token, ok, err := l.TryAcquire(ctx, "lock:k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("tryacquire: %v ok=%v", err, ok)
	}
	if cur, ok, err := l.Current(ctx, "lock:k"); err != nil || !ok || cur != token {
		t.Fatalf("quorum current: %v ok=%v cur=%q want %q", err, ok, cur, token)
	}
	if _, ok, err := l.TryAcquire(ctx, "lock:k", time.Minute); err != nil || ok {
		t.Fatalf("expected contention on quorum, ok=%v err=%v", ok, err)
	}
	if extended, err := l.Extend(ctx, "lock:k", token, time.Minute); err != nil || !extended {
		t.Fatalf("extend: %v extended=%v", err, extended)
	}
	if released, err := l.Release(ctx, "lock:k", token); err != nil || !released {
		t.Fatalf("release: %v released=%v", err, released)
	}
}

func TestRedsyncNoClients(t *testing.T) {
	if _, err := NewRedsync(nil); err != ErrNoClients {
		t.Fatalf("expected ErrNoClients, got %v", err)
	}
}
