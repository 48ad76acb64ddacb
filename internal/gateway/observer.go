// Package gateway holds the pieces the edge service needs beyond its REST
// handlers. The observer lets a gateway that does not own order state follow
// a choreographed saga from the bus alone.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dmehra2102/order-fulfillment/internal/event"
	"github.com/dmehra2102/order-fulfillment/internal/notify"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
	"github.com/dmehra2102/order-fulfillment/pkg/bus"
)

// Observer reconstructs the status stream from saga topics and feeds the
// broadcaster. Topics that imply an intermediate hop emit both statuses so
// bus observers see the same chain a local notifier would.
type Observer struct {
	log         *slog.Logger
	broadcaster *notify.Broadcaster
}

func NewObserver(log *slog.Logger, broadcaster *notify.Broadcaster) *Observer {
	return &Observer{log: log, broadcaster: broadcaster}
}

func (o *Observer) Routes() bus.Routes {
	return bus.Routes{
		event.TopicOrderCreated: observe(o, func(ev event.OrderCreated) []orderdom.StatusEvent {
			return []orderdom.StatusEvent{
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusPending, "order-service", ""),
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusInInventory, "inventory-service", ""),
			}
		}),
		event.TopicInventoryReserved: observe(o, func(ev event.InventoryReserved) []orderdom.StatusEvent {
			return []orderdom.StatusEvent{
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusInventoryConfirmed, "inventory-service", ""),
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusInPayment, "payment-service", ""),
			}
		}),
		event.TopicInventoryInsufficient: observe(o, func(ev event.InventoryInsufficient) []orderdom.StatusEvent {
			return []orderdom.StatusEvent{
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusCancelled, "inventory-service", "Insufficient stock"),
			}
		}),
		event.TopicPaymentApproved: observe(o, func(ev event.PaymentApproved) []orderdom.StatusEvent {
			return []orderdom.StatusEvent{
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusPaymentConfirmed, "payment-service", ""),
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusInShipping, "shipping-service", ""),
			}
		}),
		event.TopicPaymentFailed: observe(o, func(ev event.PaymentFailed) []orderdom.StatusEvent {
			return []orderdom.StatusEvent{
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusCancelled, "payment-service", ev.Reason),
			}
		}),
		event.TopicShippingCreated: observe(o, func(ev event.ShippingCreated) []orderdom.StatusEvent {
			return []orderdom.StatusEvent{
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusShipped, "shipping-service", "Tracking: "+ev.TrackingCode),
			}
		}),
		event.TopicShippingDelivered: observe(o, func(ev event.ShippingDelivered) []orderdom.StatusEvent {
			return []orderdom.StatusEvent{
				orderdom.NewStatusEvent(ev.OrderID, orderdom.StatusCompleted, "shipping-service", ""),
			}
		}),
	}
}

func observe[T any](o *Observer, fn func(T) []orderdom.StatusEvent) bus.Handler {
	return func(ctx context.Context, env bus.Envelope) error {
		var ev T
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			o.log.WarnContext(ctx, "undecodable payload dropped", "topic", env.Topic, "error", err)
			return nil
		}
		for _, status := range fn(ev) {
			o.broadcaster.Notify(status)
		}
		return nil
	}
}
