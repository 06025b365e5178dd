package notify

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestInMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, "warden.alerts")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "warden.alerts", []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if msg.Subject != "warden.alerts" || !bytes.Equal(msg.Data, []byte("payload")) {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	m := bus.Metrics()
	if m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("metrics: %+v", m)
	}
}

func TestInMemoryBusUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	ch, _ := bus.Subscribe(ctx, "s")
	if err := bus.Unsubscribe(ctx, "s", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing to a subject with no subscribers must not block or fail.
	if err := bus.Publish(ctx, "s", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestInMemoryBusContextCancelUnsubscribes(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := bus.Subscribe(ctx, "s")
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got message")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}
