// Package event holds the wire contracts shared by every saga service:
// the bus topics and the JSON payload fixed for each one.
package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderCreated          = "order.created"
	TopicOrderCancelled        = "order.cancelled"
	TopicInventoryReserved     = "inventory.reserved"
	TopicInventoryInsufficient = "inventory.insufficient"
	TopicPaymentApproved       = "payment.approved"
	TopicPaymentFailed         = "payment.failed"
	TopicShippingCreated       = "shipping.created"
	TopicShippingDelivered     = "shipping.delivered"
)

// SagaTopics lists every topic an observer must watch to follow a saga.
var SagaTopics = []string{
	TopicOrderCreated,
	TopicOrderCancelled,
	TopicInventoryReserved,
	TopicInventoryInsufficient,
	TopicPaymentApproved,
	TopicPaymentFailed,
	TopicShippingCreated,
	TopicShippingDelivered,
}

type OrderItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type OrderCreated struct {
	OrderID    int64       `json:"orderId"`
	CustomerID int64       `json:"customerId"`
	Items      []OrderItem `json:"items"`
}

type OrderCancelled struct {
	OrderID int64       `json:"orderId"`
	Reason  string      `json:"reason"`
	Items   []OrderItem `json:"items"`
}

type InventoryReserved struct {
	OrderID int64           `json:"orderId"`
	Items   []OrderItem     `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

type MissingProduct struct {
	ProductID int64 `json:"productId"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

type InventoryInsufficient struct {
	OrderID         int64            `json:"orderId"`
	MissingProducts []MissingProduct `json:"missingProducts"`
}

type PaymentApproved struct {
	OrderID   int64           `json:"orderId"`
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
}

type PaymentFailed struct {
	OrderID   int64  `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

type ShippingCreated struct {
	OrderID      int64  `json:"orderId"`
	ShipmentID   int64  `json:"shipmentId"`
	TrackingCode string `json:"trackingCode"`
}

type ShippingDelivered struct {
	OrderID      int64     `json:"orderId"`
	ShipmentID   int64     `json:"shipmentId"`
	TrackingCode string    `json:"trackingCode"`
	DeliveredAt  time.Time `json:"deliveredAt"`
}
