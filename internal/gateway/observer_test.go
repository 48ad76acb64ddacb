package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dmehra2102/order-fulfillment/internal/event"
	"github.com/dmehra2102/order-fulfillment/internal/notify"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
	"github.com/dmehra2102/order-fulfillment/pkg/bus"
)

func TestObserverReconstructsStatusChain(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	broadcaster := notify.NewBroadcaster(log)
	events, cancel := broadcaster.Subscribe()
	defer cancel()

	b := bus.NewMemory()
	defer b.Close()
	ctx := context.Background()
	if err := b.Subscribe(ctx, "gateway", NewObserver(log, broadcaster).Routes()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := func(topic string, payload any) {
		t.Helper()
		if err := bus.PublishJSON(ctx, b, topic, "1", payload); err != nil {
			t.Fatalf("publish %s: %v", topic, err)
		}
	}
	pub(event.TopicOrderCreated, event.OrderCreated{OrderID: 1, CustomerID: 42})
	pub(event.TopicInventoryReserved, event.InventoryReserved{OrderID: 1})
	pub(event.TopicPaymentApproved, event.PaymentApproved{OrderID: 1})
	pub(event.TopicShippingCreated, event.ShippingCreated{OrderID: 1, TrackingCode: "TRK1"})
	pub(event.TopicShippingDelivered, event.ShippingDelivered{OrderID: 1})
	b.Drain()

	want := []orderdom.Status{
		orderdom.StatusPending,
		orderdom.StatusInInventory,
		orderdom.StatusInventoryConfirmed,
		orderdom.StatusInPayment,
		orderdom.StatusPaymentConfirmed,
		orderdom.StatusInShipping,
		orderdom.StatusShipped,
		orderdom.StatusCompleted,
	}
	for i, status := range want {
		select {
		case ev := <-events:
			if ev.Status != status {
				t.Fatalf("event %d status = %s, want %s", i, ev.Status, status)
			}
			if ev.Message == "" {
				t.Fatalf("event %d missing message", i)
			}
		default:
			t.Fatalf("missing event %d (%s)", i, status)
		}
	}
}

func TestObserverMapsFailureTopics(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	broadcaster := notify.NewBroadcaster(log)
	events, cancel := broadcaster.Subscribe()
	defer cancel()

	b := bus.NewMemory()
	defer b.Close()
	ctx := context.Background()
	_ = b.Subscribe(ctx, "gateway", NewObserver(log, broadcaster).Routes())

	_ = bus.PublishJSON(ctx, b, event.TopicPaymentFailed, "9", event.PaymentFailed{
		OrderID: 9, Reason: "Payment processing failed - insufficient funds or card declined",
	})
	b.Drain()

	ev := <-events
	if ev.Status != orderdom.StatusCancelled || ev.OrderID != 9 {
		t.Fatalf("event = %+v", ev)
	}
}
