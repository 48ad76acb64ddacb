package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending            Status = "PENDING"
	StatusInInventory        Status = "IN_INVENTORY"
	StatusInventoryConfirmed Status = "INVENTORY_CONFIRMED"
	StatusInPayment          Status = "IN_PAYMENT"
	StatusPaymentConfirmed   Status = "PAYMENT_CONFIRMED"
	StatusInShipping         Status = "IN_SHIPPING"
	StatusShipped            Status = "SHIPPED"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
)

// forward is the only legal success path; CANCELLED is reachable from any
// non-terminal state.
var forward = map[Status]Status{
	StatusPending:            StatusInInventory,
	StatusInInventory:        StatusInventoryConfirmed,
	StatusInventoryConfirmed: StatusInPayment,
	StatusInPayment:          StatusPaymentConfirmed,
	StatusPaymentConfirmed:   StatusInShipping,
	StatusInShipping:         StatusShipped,
	StatusShipped:            StatusCompleted,
}

// ForwardPath lists the success-path statuses in order.
var ForwardPath = []Status{
	StatusPending,
	StatusInInventory,
	StatusInventoryConfirmed,
	StatusInPayment,
	StatusPaymentConfirmed,
	StatusInShipping,
	StatusShipped,
	StatusCompleted,
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// StatusMessages maps each status to its observer-facing message.
var StatusMessages = map[Status]string{
	StatusPending:            "Order received",
	StatusInInventory:        "Checking stock...",
	StatusInventoryConfirmed: "Stock reserved",
	StatusInPayment:          "Processing payment...",
	StatusPaymentConfirmed:   "Payment approved",
	StatusInShipping:         "Preparing shipment...",
	StatusShipped:            "Order shipped",
	StatusCompleted:          "Order delivered",
	StatusCancelled:          "Order cancelled",
}

var ErrIllegalTransition = errors.New("illegal order transition")

// ErrNotFound is returned by order stores for unknown ids. Under
// at-least-once delivery an unknown order is expected, not exceptional.
var ErrNotFound = errors.New("order not found")

type IllegalTransitionError struct {
	OrderID int64
	From    Status
	To      Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %d: illegal transition %s -> %s", e.OrderID, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

type OrderItem struct {
	ProductID int64
	Quantity  int
}

type Order struct {
	ID           int64
	CustomerID   int64
	Items        []OrderItem
	Status       Status
	Total        decimal.Decimal
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewOrder(id, customerID int64, items []OrderItem) Order {
	now := time.Now().UTC()
	return Order{
		ID:         id,
		CustomerID: customerID,
		Items:      items,
		Status:     StatusPending,
		Total:      decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Advance moves the order to target, which must be the direct successor of
// the current status on the forward path.
func (o *Order) Advance(target Status) error {
	next, ok := forward[o.Status]
	if !ok || next != target {
		return &IllegalTransitionError{OrderID: o.ID, From: o.Status, To: target}
	}
	o.Status = target
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel marks the order CANCELLED from any non-terminal state. It reports
// whether the order changed: cancelling a cancelled order is a no-op, and
// cancelling a completed order is refused.
func (o *Order) Cancel(reason string) (bool, error) {
	switch o.Status {
	case StatusCancelled:
		return false, nil
	case StatusCompleted:
		return false, &IllegalTransitionError{OrderID: o.ID, From: o.Status, To: StatusCancelled}
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

// StatusEvent is the live-update record emitted on every transition.
type StatusEvent struct {
	OrderID   int64     `json:"orderId"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

// NewStatusEvent builds the record for one transition. extra, when set, is
// appended to the canonical status message (e.g. a tracking code).
func NewStatusEvent(orderID int64, status Status, service, extra string) StatusEvent {
	msg := StatusMessages[status]
	if extra != "" {
		msg += " - " + extra
	}
	return StatusEvent{
		OrderID:   orderID,
		Status:    status,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		Service:   service,
	}
}
