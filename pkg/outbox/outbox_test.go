package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dmehra2102/order-fulfillment/pkg/bus"
	"github.com/dmehra2102/order-fulfillment/pkg/logging"
)

// flakyPublisher fails with ErrTransport while down.
type flakyPublisher struct {
	mu   sync.Mutex
	down bool
	sent []bus.Envelope
}

func (f *flakyPublisher) Publish(_ context.Context, env bus.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return bus.ErrTransport
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *flakyPublisher) setDown(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = v
}

func (f *flakyPublisher) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestPublisherQueuesOnTransportFailure(t *testing.T) {
	log := logging.New("test")
	direct := &flakyPublisher{down: true}
	q := NewQueue(8)
	p := NewPublisher(log, direct, q)
	ctx := context.Background()

	if err := p.Publish(ctx, bus.Envelope{Topic: "inventory.reserved", Key: "1"}); err != nil {
		t.Fatalf("queued publish should not error, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}

	direct.setDown(false)
	relay := NewRelay(log, q, direct, "test-relay")
	relay.Drain(ctx)

	if q.Len() != 0 {
		t.Fatalf("queue not drained, len = %d", q.Len())
	}
	if direct.sentCount() != 1 {
		t.Fatalf("sent = %d, want 1", direct.sentCount())
	}
}

func TestPublisherFailsLoudlyWhenFull(t *testing.T) {
	log := logging.New("test")
	direct := &flakyPublisher{down: true}
	q := NewQueue(1)
	p := NewPublisher(log, direct, q)
	ctx := context.Background()

	if err := p.Publish(ctx, bus.Envelope{Topic: "a"}); err != nil {
		t.Fatal(err)
	}
	err := p.Publish(ctx, bus.Envelope{Topic: "b"})
	if !errors.Is(err, bus.ErrTransport) {
		t.Fatalf("overflow must surface the transport error, got %v", err)
	}
}

func TestPublisherPassesThroughWhenHealthy(t *testing.T) {
	log := logging.New("test")
	direct := &flakyPublisher{}
	q := NewQueue(8)
	p := NewPublisher(log, direct, q)

	if err := p.Publish(context.Background(), bus.Envelope{Topic: "order.created"}); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 0 {
		t.Fatalf("healthy publish must not queue, len = %d", q.Len())
	}
	if direct.sentCount() != 1 {
		t.Fatalf("sent = %d, want 1", direct.sentCount())
	}
}

func TestRelayDropsAfterMaxAttempts(t *testing.T) {
	log := logging.New("test")
	direct := &flakyPublisher{down: true}
	q := NewQueue(8)
	if _, err := q.Enqueue(bus.Envelope{Topic: "x"}); err != nil {
		t.Fatal(err)
	}

	relay := NewRelay(log, q, direct, "test-relay")
	relay.maxAttempts = 2
	ctx := context.Background()

	relay.Drain(ctx) // attempt 1, requeued
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	relay.Drain(ctx) // attempt 2, dropped
	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0 after drop", q.Len())
	}
}
