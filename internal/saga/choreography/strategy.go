// Package choreography wires the saga event-first: each service subscribes
// to the topics it reacts to and publishes its own outcome, with no central
// coordinator. The routing tables below are the complete reaction map.
package choreography

import (
	"context"

	orderapp "github.com/dmehra2102/order-fulfillment/internal/order/application"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

// Strategy accepts an order and lets the event flow drive it. Submit returns
// as soon as order.created is on the bus; the caller polls or subscribes for
// progress.
type Strategy struct {
	orders *orderapp.Service
}

func NewStrategy(orders *orderapp.Service) *Strategy {
	return &Strategy{orders: orders}
}

func (s *Strategy) Submit(ctx context.Context, customerID int64, items []orderdom.OrderItem) (orderdom.Order, error) {
	return s.orders.Submit(ctx, customerID, items)
}
