package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentApproved PaymentStatus = "APPROVED"
	PaymentFailed   PaymentStatus = "FAILED"
)

type Payment struct {
	ID        string
	OrderID   int64
	Amount    decimal.Decimal
	Status    PaymentStatus
	CreatedAt time.Time
}
