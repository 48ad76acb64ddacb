package application

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-fulfillment/internal/event"
	"github.com/dmehra2102/order-fulfillment/internal/order/domain"
	"github.com/dmehra2102/order-fulfillment/pkg/bus"
)

// statusService labels each forward transition with the service the change
// originates from.
var statusService = map[domain.Status]string{
	domain.StatusPending:            "order-service",
	domain.StatusInInventory:        "inventory-service",
	domain.StatusInventoryConfirmed: "inventory-service",
	domain.StatusInPayment:          "payment-service",
	domain.StatusPaymentConfirmed:   "payment-service",
	domain.StatusInShipping:         "shipping-service",
	domain.StatusShipped:            "shipping-service",
	domain.StatusCompleted:          "shipping-service",
}

// Service is the order-owning service: the single writer of order state.
// In choreography mode its handlers react to bus events; in orchestration
// mode the coordinator drives the same methods directly.
type Service struct {
	log      *slog.Logger
	repo     OrderRepository
	pub      bus.Publisher
	notifier Notifier
}

// NewService builds the owner. pub may be nil when no bus is attached
// (orchestration mode); notifier may be nil when nothing observes.
func NewService(log *slog.Logger, repo OrderRepository, pub bus.Publisher, notifier Notifier) *Service {
	return &Service{log: log, repo: repo, pub: pub, notifier: notifier}
}

func (s *Service) notify(ev domain.StatusEvent) {
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}

// Create stores a new PENDING order and emits its first StatusEvent.
func (s *Service) Create(ctx context.Context, customerID int64, items []domain.OrderItem) (domain.Order, error) {
	o, err := s.repo.Create(ctx, customerID, items)
	if err != nil {
		return domain.Order{}, err
	}
	s.notify(domain.NewStatusEvent(o.ID, domain.StatusPending, statusService[domain.StatusPending], ""))
	s.log.Info("order created", "order_id", o.ID, "customer_id", customerID)
	return o, nil
}

// Submit starts the choreography saga: create and publish order.created.
// The order comes back PENDING; the owner's own order.created handler moves
// it to IN_INVENTORY. A transport failure leaves the order PENDING and is
// surfaced to the caller; it never cancels the order.
func (s *Service) Submit(ctx context.Context, customerID int64, items []domain.OrderItem) (domain.Order, error) {
	o, err := s.Create(ctx, customerID, items)
	if err != nil {
		return domain.Order{}, err
	}

	ev := event.OrderCreated{
		OrderID:    o.ID,
		CustomerID: customerID,
		Items:      toEventItems(items),
	}
	if err := bus.PublishJSON(ctx, s.pub, event.TopicOrderCreated, orderKey(o.ID), ev); err != nil {
		s.log.Error("order.created publish failed", "order_id", o.ID, "err", err)
		return o, err
	}
	return o, nil
}

// Advance performs one forward transition and emits its StatusEvent.
func (s *Service) Advance(ctx context.Context, id int64, target domain.Status, extra string) (domain.Order, error) {
	o, err := s.repo.Update(ctx, id, func(o *domain.Order) error {
		return o.Advance(target)
	})
	if err != nil {
		return o, err
	}
	s.notify(domain.NewStatusEvent(id, target, statusService[target], extra))
	return o, nil
}

// ConfirmInventory records the authoritative total computed by the
// reservation engine and confirms the inventory step. The total is only
// trusted from this transition on.
func (s *Service) ConfirmInventory(ctx context.Context, id int64, total decimal.Decimal) (domain.Order, error) {
	o, err := s.repo.Update(ctx, id, func(o *domain.Order) error {
		if err := o.Advance(domain.StatusInventoryConfirmed); err != nil {
			return err
		}
		o.Total = total
		return nil
	})
	if err != nil {
		return o, err
	}
	s.notify(domain.NewStatusEvent(id, domain.StatusInventoryConfirmed,
		statusService[domain.StatusInventoryConfirmed], ""))
	return o, nil
}

// Cancel terminates the order from any non-terminal state. Duplicate
// cancellation reports changed=false and emits nothing.
func (s *Service) Cancel(ctx context.Context, id int64, reason, service string) (domain.Order, bool, error) {
	var changed bool
	o, err := s.repo.Update(ctx, id, func(o *domain.Order) error {
		c, err := o.Cancel(reason)
		changed = c
		return err
	})
	if err != nil {
		return o, false, err
	}
	if changed {
		s.notify(domain.NewStatusEvent(id, domain.StatusCancelled, service, reason))
		s.log.Info("order cancelled", "order_id", id, "reason", reason)
	}
	return o, changed, nil
}

// Complete marks a shipped order COMPLETED.
func (s *Service) Complete(ctx context.Context, id int64) (domain.Order, error) {
	return s.Advance(ctx, id, domain.StatusCompleted, "")
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.Order, error) {
	return s.repo.List(ctx)
}

// --- choreography event handlers ---
//
// Handlers tolerate duplicate delivery: a transition that is no longer
// legal for the order's current status is logged and dropped, and unknown
// order ids are ignored (expected under at-least-once delivery).

func (s *Service) HandleOrderCreated(ctx context.Context, ev event.OrderCreated) error {
	o := domain.NewOrder(ev.OrderID, ev.CustomerID, fromEventItems(ev.Items))
	stored, err := s.repo.Register(ctx, o)
	if err != nil {
		return err
	}
	if stored {
		s.notify(domain.NewStatusEvent(o.ID, domain.StatusPending, statusService[domain.StatusPending], ""))
	}
	_, err = s.Advance(ctx, ev.OrderID, domain.StatusInInventory, "")
	return s.tolerate(err, ev.OrderID, event.TopicOrderCreated)
}

func (s *Service) HandleInventoryReserved(ctx context.Context, ev event.InventoryReserved) error {
	if _, err := s.ConfirmInventory(ctx, ev.OrderID, ev.Total); err != nil {
		return s.tolerate(err, ev.OrderID, event.TopicInventoryReserved)
	}
	_, err := s.Advance(ctx, ev.OrderID, domain.StatusInPayment, "")
	return s.tolerate(err, ev.OrderID, event.TopicInventoryReserved)
}

func (s *Service) HandleInventoryInsufficient(ctx context.Context, ev event.InventoryInsufficient) error {
	_, _, err := s.Cancel(ctx, ev.OrderID, "Insufficient stock", "inventory-service")
	return s.tolerate(err, ev.OrderID, event.TopicInventoryInsufficient)
}

func (s *Service) HandlePaymentApproved(ctx context.Context, ev event.PaymentApproved) error {
	if _, err := s.Advance(ctx, ev.OrderID, domain.StatusPaymentConfirmed, ""); err != nil {
		return s.tolerate(err, ev.OrderID, event.TopicPaymentApproved)
	}
	_, err := s.Advance(ctx, ev.OrderID, domain.StatusInShipping, "")
	return s.tolerate(err, ev.OrderID, event.TopicPaymentApproved)
}

// HandlePaymentFailed cancels the order and publishes order.cancelled so
// the inventory service releases the stock it reserved (compensation).
func (s *Service) HandlePaymentFailed(ctx context.Context, ev event.PaymentFailed) error {
	o, changed, err := s.Cancel(ctx, ev.OrderID, ev.Reason, "payment-service")
	if err != nil {
		return s.tolerate(err, ev.OrderID, event.TopicPaymentFailed)
	}
	if !changed || s.pub == nil {
		return nil
	}
	cancelled := event.OrderCancelled{
		OrderID: ev.OrderID,
		Reason:  ev.Reason,
		Items:   toEventItems(o.Items),
	}
	if err := bus.PublishJSON(ctx, s.pub, event.TopicOrderCancelled, orderKey(ev.OrderID), cancelled); err != nil {
		s.log.Error("order.cancelled publish failed", "order_id", ev.OrderID, "err", err)
		return err
	}
	return nil
}

func (s *Service) HandleShippingCreated(ctx context.Context, ev event.ShippingCreated) error {
	_, err := s.Advance(ctx, ev.OrderID, domain.StatusShipped, "Tracking: "+ev.TrackingCode)
	return s.tolerate(err, ev.OrderID, event.TopicShippingCreated)
}

func (s *Service) HandleShippingDelivered(ctx context.Context, ev event.ShippingDelivered) error {
	_, err := s.Complete(ctx, ev.OrderID)
	return s.tolerate(err, ev.OrderID, event.TopicShippingDelivered)
}

func (s *Service) tolerate(err error, orderID int64, topic string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		s.log.Warn("event for unknown order ignored", "order_id", orderID, "topic", topic)
		return nil
	case errors.Is(err, domain.ErrIllegalTransition):
		s.log.Info("stale or duplicate event dropped", "order_id", orderID, "topic", topic)
		return nil
	default:
		return err
	}
}

func orderKey(id int64) string { return strconv.FormatInt(id, 10) }

func toEventItems(items []domain.OrderItem) []event.OrderItem {
	out := make([]event.OrderItem, len(items))
	for i, it := range items {
		out[i] = event.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

func fromEventItems(items []event.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	for i, it := range items {
		out[i] = domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}
