// Package saga defines the coordination contract the gateway runs orders
// through. Two interchangeable strategies implement it: orchestration, where
// a coordinator calls each service in turn, and choreography, where services
// react to each other's events. Both drive an order through the same
// transition sequence.
package saga

import (
	"context"

	"github.com/shopspring/decimal"

	invapp "github.com/dmehra2102/order-fulfillment/internal/inventory/application"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
	payapp "github.com/dmehra2102/order-fulfillment/internal/payment/application"
	shipapp "github.com/dmehra2102/order-fulfillment/internal/shipping/application"
)

// Strategy accepts an order and coordinates its fulfillment. Submit returns
// the order in whatever state the strategy leaves it when the call returns:
// orchestration holds the call until a terminal state, choreography returns
// as soon as the order is accepted.
type Strategy interface {
	Submit(ctx context.Context, customerID int64, items []orderdom.OrderItem) (orderdom.Order, error)
}

// InventoryClient is the orchestrator's view of the inventory service.
type InventoryClient interface {
	ReserveStock(ctx context.Context, orderID, customerID int64, items []orderdom.OrderItem) (invapp.ReserveOutcome, error)
	ReleaseStock(ctx context.Context, orderID int64, items []orderdom.OrderItem) error
}

// PaymentClient is the orchestrator's view of the payment service.
type PaymentClient interface {
	ProcessPayment(ctx context.Context, orderID int64, amount decimal.Decimal) (payapp.Outcome, error)
}

// ShippingClient is the orchestrator's view of the shipping service.
type ShippingClient interface {
	CreateShipment(ctx context.Context, orderID int64) (shipapp.Outcome, error)
}
