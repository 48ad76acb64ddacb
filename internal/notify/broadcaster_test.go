package notify

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster(testLogger())
	first, cancelFirst := b.Subscribe()
	second, cancelSecond := b.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	ev := domain.StatusEvent{OrderID: 1, Status: domain.StatusPending}
	b.Notify(ev)

	for _, ch := range []<-chan domain.StatusEvent{first, second} {
		select {
		case got := <-ch:
			if got.OrderID != 1 {
				t.Fatalf("orderId = %d", got.OrderID)
			}
		default:
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestCancelClosesChannelAndUnsubscribes(t *testing.T) {
	b := NewBroadcaster(testLogger())
	ch, cancel := b.Subscribe()

	cancel()
	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers = %d, want 0", b.Subscribers())
	}
	cancel() // second cancel is a no-op
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(testLogger())
	b.buffer = 2
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Notify(domain.StatusEvent{OrderID: int64(i)})
	}

	if len(ch) != 2 {
		t.Fatalf("buffered = %d, want 2", len(ch))
	}
	first := <-ch
	if first.OrderID != 0 {
		t.Fatalf("oldest buffered event = %d, want 0", first.OrderID)
	}
}
