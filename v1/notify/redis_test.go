package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisBus(t *testing.T) (*RedisBus, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisBus(client), context.Background()
}

func TestRedisBusPublishSubscribe(t *testing.T) {
	bus, ctx := newRedisBus(t)

	ch, err := bus.Subscribe(ctx, "warden.alerts")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "warden.alerts", []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if !bytes.Equal(msg.Data, []byte("payload")) {
			t.Fatalf("unexpected payload %q", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestRedisBusFanout(t *testing.T) {
	bus, ctx := newRedisBus(t)

	ch1, err := bus.Subscribe(ctx, "s")
	if err != nil {
		t.Fatalf("subscribe 1: %v", err)
	}
	ch2, err := bus.Subscribe(ctx, "s")
	if err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}
	if err := bus.Publish(ctx, "s", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, ch := range []chan Message{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d did not receive", i+1)
		}
	}
}

func TestRedisBusUnsubscribeClosesChannel(t *testing.T) {
	bus, ctx := newRedisBus(t)

	ch, err := bus.Subscribe(ctx, "s")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, "s", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}
