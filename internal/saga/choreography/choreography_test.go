package choreography

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-fulfillment/internal/event"
	invapp "github.com/dmehra2102/order-fulfillment/internal/inventory/application"
	invmem "github.com/dmehra2102/order-fulfillment/internal/inventory/infrastructure/memory"
	orderapp "github.com/dmehra2102/order-fulfillment/internal/order/application"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
	ordermem "github.com/dmehra2102/order-fulfillment/internal/order/infrastructure/memory"
	payapp "github.com/dmehra2102/order-fulfillment/internal/payment/application"
	shipapp "github.com/dmehra2102/order-fulfillment/internal/shipping/application"
	"github.com/dmehra2102/order-fulfillment/pkg/bus"
	"github.com/dmehra2102/order-fulfillment/pkg/scheduler"
)

const transitDelay = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu     sync.Mutex
	events []orderdom.StatusEvent
}

func (r *recorder) Notify(ev orderdom.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) statuses() []orderdom.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]orderdom.Status, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Status
	}
	return out
}

type fixture struct {
	bus      *bus.Memory
	strategy *Strategy
	orders   *orderapp.Service
	stock    *invmem.Store
	notifier *recorder
	sched    *scheduler.Manual
}

func newFixture(t *testing.T, payOpts ...payapp.Option) *fixture {
	t.Helper()
	log := testLogger()
	b := bus.NewMemory()
	t.Cleanup(func() { _ = b.Close() })

	notifier := &recorder{}
	orders := orderapp.NewService(log, ordermem.NewRepository(), b, notifier)

	stock := invmem.NewStore()
	stock.Seed(invmem.DefaultCatalog()...)
	inventory := invapp.NewService(log, stock)

	if len(payOpts) == 0 {
		payOpts = []payapp.Option{payapp.WithRoll(func() float64 { return 1 })}
	}
	payment := payapp.NewService(log, payOpts...)

	sched := scheduler.NewManual()
	shipping := shipapp.NewService(log, sched, transitDelay, DeliveryHook(log, b))

	ctx := context.Background()
	for group, routes := range map[string]bus.Routes{
		"order-service":     OrderRoutes(log, orders),
		"inventory-service": InventoryRoutes(log, inventory, b),
		"payment-service":   PaymentRoutes(log, payment, b),
		"shipping-service":  ShippingRoutes(log, shipping, b),
	} {
		if err := b.Subscribe(ctx, group, routes); err != nil {
			t.Fatalf("subscribe %s: %v", group, err)
		}
	}

	return &fixture{
		bus:      b,
		strategy: NewStrategy(orders),
		orders:   orders,
		stock:    stock,
		notifier: notifier,
		sched:    sched,
	}
}

func assertStatuses(t *testing.T, got, want []orderdom.Status) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

func TestSagaCompletesAndEmitsFullChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.strategy.Submit(ctx, 42, []orderdom.OrderItem{{ProductID: 1, Quantity: 2}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if order.Status != orderdom.StatusPending {
		t.Fatalf("submit returned %s, want PENDING", order.Status)
	}

	f.bus.Drain()
	order, err = f.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if order.Status != orderdom.StatusShipped {
		t.Fatalf("status before delivery = %s, want SHIPPED", order.Status)
	}
	if want := decimal.NewFromInt(5000); !order.Total.Equal(want) {
		t.Fatalf("total = %s, want %s", order.Total, want)
	}

	f.sched.Advance(transitDelay)
	f.bus.Drain()

	order, _ = f.orders.Get(ctx, order.ID)
	if order.Status != orderdom.StatusCompleted {
		t.Fatalf("final status = %s, want COMPLETED", order.Status)
	}
	assertStatuses(t, f.notifier.statuses(), []orderdom.Status{
		orderdom.StatusPending,
		orderdom.StatusInInventory,
		orderdom.StatusInventoryConfirmed,
		orderdom.StatusInPayment,
		orderdom.StatusPaymentConfirmed,
		orderdom.StatusInShipping,
		orderdom.StatusShipped,
		orderdom.StatusCompleted,
	})
}

func TestSagaInsufficientStockCancelsWithoutReserving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.strategy.Submit(ctx, 42, []orderdom.OrderItem{
		{ProductID: 2, Quantity: 5},
		{ProductID: 1, Quantity: 99},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.bus.Drain()

	order, _ = f.orders.Get(ctx, order.ID)
	if order.Status != orderdom.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", order.Status)
	}
	if order.CancelReason != "Insufficient stock" {
		t.Fatalf("reason = %q", order.CancelReason)
	}

	// All-or-nothing: the satisfiable line was not reserved either.
	for id, want := range map[int64]int{1: 10, 2: 50} {
		p, err := f.stock.GetProduct(ctx, id)
		if err != nil {
			t.Fatalf("GetProduct %d: %v", id, err)
		}
		if p.Stock != want {
			t.Fatalf("product %d stock = %d, want %d", id, p.Stock, want)
		}
	}
	assertStatuses(t, f.notifier.statuses(), []orderdom.Status{
		orderdom.StatusPending,
		orderdom.StatusInInventory,
		orderdom.StatusCancelled,
	})
}

func TestSagaDeclinedPaymentReleasesStock(t *testing.T) {
	f := newFixture(t, payapp.WithRoll(func() float64 { return 0 }))
	ctx := context.Background()

	order, err := f.strategy.Submit(ctx, 42, []orderdom.OrderItem{{ProductID: 3, Quantity: 4}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.bus.Drain()

	order, _ = f.orders.Get(ctx, order.ID)
	if order.Status != orderdom.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", order.Status)
	}

	// order.cancelled compensation restored the reservation.
	p, err := f.stock.GetProduct(ctx, 3)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Stock != 30 {
		t.Fatalf("stock = %d, want 30", p.Stock)
	}
	assertStatuses(t, f.notifier.statuses(), []orderdom.Status{
		orderdom.StatusPending,
		orderdom.StatusInInventory,
		orderdom.StatusInventoryConfirmed,
		orderdom.StatusInPayment,
		orderdom.StatusCancelled,
	})
}

func TestSagaDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.strategy.Submit(ctx, 42, []orderdom.OrderItem{{ProductID: 1, Quantity: 2}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.bus.Drain()

	// Redeliver order.created as an at-least-once bus would.
	dup := event.OrderCreated{
		OrderID:    order.ID,
		CustomerID: 42,
		Items:      []event.OrderItem{{ProductID: 1, Quantity: 2}},
	}
	if err := bus.PublishJSON(ctx, f.bus, event.TopicOrderCreated, "1", dup); err != nil {
		t.Fatalf("republish: %v", err)
	}
	f.bus.Drain()

	// The ledger replayed the reservation: no second decrement.
	p, _ := f.stock.GetProduct(ctx, 1)
	if p.Stock != 8 {
		t.Fatalf("stock = %d, want 8", p.Stock)
	}
	order, _ = f.orders.Get(ctx, order.ID)
	if order.Status != orderdom.StatusShipped {
		t.Fatalf("status = %s, want SHIPPED", order.Status)
	}
}
