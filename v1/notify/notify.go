package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

// Message is a single notification delivered on a subject.
type Message struct {
	Subject string
	Data    []byte
}

// Bus is the notification channel lock health alerts are published on. It is
// an external collaborator of the lock subsystem: the application decides
// which backend carries the alerts.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string) (chan Message, error)
	Unsubscribe(ctx context.Context, subject string, ch chan Message) error
}

// InMemoryBus is a local implementation of Bus mainly for testing.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan Message
	published uint64
	delivered uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan Message)}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	chans := append([]chan Message(nil), b.subs[subject]...)
	b.mu.Unlock()
	atomic.AddUint64(&b.published, 1)
	msg := Message{Subject: subject, Data: data}
	for _, ch := range chans {
		select {
		case ch <- msg:
			atomic.AddUint64(&b.delivered, 1)
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, subject string) (chan Message, error) {
	ch := make(chan Message, 16)
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), subject, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, subject string, ch chan Message) error {
	b.mu.Lock()
	subs := b.subs[subject]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[subject] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, subject)
	}
	b.mu.Unlock()
	return nil
}

// Metrics reports published and delivered message counts.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
