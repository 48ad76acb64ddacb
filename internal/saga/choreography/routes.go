package choreography

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/dmehra2102/order-fulfillment/internal/event"
	invapp "github.com/dmehra2102/order-fulfillment/internal/inventory/application"
	invdom "github.com/dmehra2102/order-fulfillment/internal/inventory/domain"
	orderapp "github.com/dmehra2102/order-fulfillment/internal/order/application"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
	payapp "github.com/dmehra2102/order-fulfillment/internal/payment/application"
	shipapp "github.com/dmehra2102/order-fulfillment/internal/shipping/application"
	shipdom "github.com/dmehra2102/order-fulfillment/internal/shipping/domain"
	"github.com/dmehra2102/order-fulfillment/pkg/bus"
)

// handle decodes the envelope payload and passes it on. A payload that does
// not parse is a poison message: it is logged and dropped, never retried.
func handle[T any](log *slog.Logger, fn func(context.Context, T) error) bus.Handler {
	return func(ctx context.Context, env bus.Envelope) error {
		var ev T
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			log.WarnContext(ctx, "undecodable payload dropped", "topic", env.Topic, "error", err)
			return nil
		}
		return fn(ctx, ev)
	}
}

// OrderRoutes is the order owner's reaction map: it advances the order
// through every transition the other services report.
func OrderRoutes(log *slog.Logger, orders *orderapp.Service) bus.Routes {
	return bus.Routes{
		event.TopicOrderCreated:          handle(log, orders.HandleOrderCreated),
		event.TopicInventoryReserved:     handle(log, orders.HandleInventoryReserved),
		event.TopicInventoryInsufficient: handle(log, orders.HandleInventoryInsufficient),
		event.TopicPaymentApproved:       handle(log, orders.HandlePaymentApproved),
		event.TopicPaymentFailed:         handle(log, orders.HandlePaymentFailed),
		event.TopicShippingCreated:       handle(log, orders.HandleShippingCreated),
		event.TopicShippingDelivered:     handle(log, orders.HandleShippingDelivered),
	}
}

// InventoryRoutes reserves on order.created and releases on order.cancelled.
func InventoryRoutes(log *slog.Logger, inventory *invapp.Service, pub bus.Publisher) bus.Routes {
	return bus.Routes{
		event.TopicOrderCreated: handle(log, func(ctx context.Context, ev event.OrderCreated) error {
			out, err := inventory.ReserveStock(ctx, ev.OrderID, ev.CustomerID, fromEventItems(ev.Items))
			if err != nil {
				return err
			}
			key := orderKey(ev.OrderID)
			if !out.Success {
				return bus.PublishJSON(ctx, pub, event.TopicInventoryInsufficient, key, event.InventoryInsufficient{
					OrderID:         ev.OrderID,
					MissingProducts: toMissingProducts(out.Shortages),
				})
			}
			return bus.PublishJSON(ctx, pub, event.TopicInventoryReserved, key, event.InventoryReserved{
				OrderID: ev.OrderID,
				Items:   ev.Items,
				Total:   out.Total,
			})
		}),
		event.TopicOrderCancelled: handle(log, func(ctx context.Context, ev event.OrderCancelled) error {
			return inventory.ReleaseStock(ctx, ev.OrderID, fromEventItems(ev.Items))
		}),
	}
}

// PaymentRoutes charges once stock is reserved.
func PaymentRoutes(log *slog.Logger, payment *payapp.Service, pub bus.Publisher) bus.Routes {
	return bus.Routes{
		event.TopicInventoryReserved: handle(log, func(ctx context.Context, ev event.InventoryReserved) error {
			out, err := payment.ProcessPayment(ctx, ev.OrderID, ev.Total)
			if err != nil {
				return err
			}
			key := orderKey(ev.OrderID)
			if !out.Success {
				return bus.PublishJSON(ctx, pub, event.TopicPaymentFailed, key, event.PaymentFailed{
					OrderID:   ev.OrderID,
					PaymentID: out.PaymentID,
					Reason:    out.Message,
				})
			}
			return bus.PublishJSON(ctx, pub, event.TopicPaymentApproved, key, event.PaymentApproved{
				OrderID:   ev.OrderID,
				PaymentID: out.PaymentID,
				Amount:    ev.Total,
			})
		}),
	}
}

// ShippingRoutes hands the order to the carrier once payment clears.
func ShippingRoutes(log *slog.Logger, shipping *shipapp.Service, pub bus.Publisher) bus.Routes {
	return bus.Routes{
		event.TopicPaymentApproved: handle(log, func(ctx context.Context, ev event.PaymentApproved) error {
			out, err := shipping.CreateShipment(ctx, ev.OrderID)
			if err != nil {
				return err
			}
			return bus.PublishJSON(ctx, pub, event.TopicShippingCreated, orderKey(ev.OrderID), event.ShippingCreated{
				OrderID:      ev.OrderID,
				ShipmentID:   out.ShipmentID,
				TrackingCode: out.TrackingCode,
			})
		}),
	}
}

// DeliveryHook publishes shipping.delivered when the carrier simulator
// reports arrival. Hand it to the shipping service at construction.
func DeliveryHook(log *slog.Logger, pub bus.Publisher) shipapp.DeliveredFunc {
	return func(sh shipdom.Shipment) {
		ctx := context.Background()
		err := bus.PublishJSON(ctx, pub, event.TopicShippingDelivered, orderKey(sh.OrderID), event.ShippingDelivered{
			OrderID:      sh.OrderID,
			ShipmentID:   sh.ID,
			TrackingCode: sh.TrackingCode,
			DeliveredAt:  sh.DeliveredAt,
		})
		if err != nil {
			log.Error("shipping.delivered publish failed", "orderId", sh.OrderID, "error", err)
		}
	}
}

func orderKey(id int64) string { return strconv.FormatInt(id, 10) }

func fromEventItems(items []event.OrderItem) []orderdom.OrderItem {
	out := make([]orderdom.OrderItem, len(items))
	for i, it := range items {
		out[i] = orderdom.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

func toMissingProducts(shortages []invdom.Shortage) []event.MissingProduct {
	out := make([]event.MissingProduct, len(shortages))
	for i, sh := range shortages {
		out[i] = event.MissingProduct{ProductID: sh.ProductID, Requested: sh.Requested, Available: sh.Available}
	}
	return out
}
