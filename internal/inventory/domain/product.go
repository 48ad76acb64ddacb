package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("product not found")

type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// Shortage reports one item that could not be covered. An unknown product
// id is reported as a shortage with Available == 0.
type Shortage struct {
	ProductID int64
	Requested int
	Available int
}

type ReservedItem struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Reservation is the ledger record for one order's reserved stock. Its
// presence is what makes reserve and release idempotent per order.
type Reservation struct {
	OrderID int64
	Items   []ReservedItem
	Total   decimal.Decimal
}
