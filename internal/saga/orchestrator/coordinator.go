// Package orchestrator coordinates a saga by calling each service in turn
// and compensating on failure. The coordinator is the only writer of order
// state in this mode.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	orderapp "github.com/dmehra2102/order-fulfillment/internal/order/application"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
	"github.com/dmehra2102/order-fulfillment/internal/saga"
	shipdom "github.com/dmehra2102/order-fulfillment/internal/shipping/domain"
)

const DefaultStepTimeout = 5 * time.Second

type Coordinator struct {
	log         *slog.Logger
	orders      *orderapp.Service
	inventory   saga.InventoryClient
	payment     saga.PaymentClient
	shipping    saga.ShippingClient
	stepTimeout time.Duration
}

type Option func(*Coordinator)

func WithStepTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.stepTimeout = d }
}

func New(log *slog.Logger, orders *orderapp.Service, inventory saga.InventoryClient, payment saga.PaymentClient, shipping saga.ShippingClient, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:         log,
		orders:      orders,
		inventory:   inventory,
		payment:     payment,
		shipping:    shipping,
		stepTimeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit runs the full saga to a terminal state. Once the shipment is
// created the order is SHIPPED and then COMPLETED right away; the carrier's
// delivery confirmation arrives later and changes nothing. A step that
// fails or exceeds its deadline is compensated and the order comes back
// CANCELLED; a transport fault is returned as an error with the order left
// where it was.
func (c *Coordinator) Submit(ctx context.Context, customerID int64, items []orderdom.OrderItem) (orderdom.Order, error) {
	order, err := c.orders.Create(ctx, customerID, items)
	if err != nil {
		return orderdom.Order{}, err
	}
	if order, err = c.orders.Advance(ctx, order.ID, orderdom.StatusInInventory, ""); err != nil {
		return order, err
	}

	// Reserve stock.
	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	reserve, err := c.inventory.ReserveStock(stepCtx, order.ID, customerID, items)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.compensate(ctx, order.ID, items, "Inventory reservation timed out", "inventory-service", true)
		}
		return order, err
	}
	if !reserve.Success {
		return c.compensate(ctx, order.ID, items, reserve.Message, "inventory-service", false)
	}
	if order, err = c.orders.ConfirmInventory(ctx, order.ID, reserve.Total); err != nil {
		return order, err
	}
	if order, err = c.orders.Advance(ctx, order.ID, orderdom.StatusInPayment, ""); err != nil {
		return order, err
	}

	// Charge the customer.
	stepCtx, cancel = context.WithTimeout(ctx, c.stepTimeout)
	pay, err := c.payment.ProcessPayment(stepCtx, order.ID, reserve.Total)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.compensate(ctx, order.ID, items, "Payment timed out", "payment-service", true)
		}
		return order, err
	}
	if !pay.Success {
		return c.compensate(ctx, order.ID, items, pay.Message, "payment-service", true)
	}
	if order, err = c.orders.Advance(ctx, order.ID, orderdom.StatusPaymentConfirmed, ""); err != nil {
		return order, err
	}
	if order, err = c.orders.Advance(ctx, order.ID, orderdom.StatusInShipping, ""); err != nil {
		return order, err
	}

	// Hand over to the carrier.
	stepCtx, cancel = context.WithTimeout(ctx, c.stepTimeout)
	ship, err := c.shipping.CreateShipment(stepCtx, order.ID)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.compensate(ctx, order.ID, items, "Shipment creation timed out", "shipping-service", true)
		}
		return order, err
	}
	if order, err = c.orders.Advance(ctx, order.ID, orderdom.StatusShipped, "Tracking: "+ship.TrackingCode); err != nil {
		return order, err
	}
	return c.orders.Complete(ctx, order.ID)
}

// OnDelivered records the carrier's confirmation. The order completed when
// the shipment was created, so this is a follow-up that does not move it.
// Wire it as the shipping service's delivery hook.
func (c *Coordinator) OnDelivered(sh shipdom.Shipment) {
	c.log.Info("shipment delivered", "orderId", sh.OrderID, "trackingCode", sh.TrackingCode)
}

func (c *Coordinator) compensate(ctx context.Context, orderID int64, items []orderdom.OrderItem, reason, service string, release bool) (orderdom.Order, error) {
	if release {
		// Release runs on a fresh deadline so a timed-out step cannot
		// starve its own compensation.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.stepTimeout)
		defer cancel()
		if err := c.inventory.ReleaseStock(relCtx, orderID, items); err != nil {
			c.log.ErrorContext(ctx, "stock release failed", "orderId", orderID, "error", err)
		}
	}
	order, _, err := c.orders.Cancel(ctx, orderID, reason, service)
	return order, err
}
