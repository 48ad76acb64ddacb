package application

import (
	"context"

	invdom "github.com/dmehra2102/order-fulfillment/internal/inventory/domain"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

// StockStore owns the catalog and the reservation ledger. Check-and-reserve
// is atomic per product; reserve and release are idempotent per order id.
type StockStore interface {
	// Reserve is all-or-nothing: with any shortage nothing is reserved and
	// every short item is reported. A repeated call for the same order
	// returns the recorded outcome without touching stock again.
	Reserve(ctx context.Context, orderID int64, items []orderdom.OrderItem) (invdom.Reservation, []invdom.Shortage, error)
	// Release returns a reservation's stock. It reports whether anything
	// was released; releasing an unknown or already-released order is a
	// no-op.
	Release(ctx context.Context, orderID int64) (bool, error)

	GetProduct(ctx context.Context, id int64) (invdom.Product, error)
	ListProducts(ctx context.Context) ([]invdom.Product, error)
	CreateProduct(ctx context.Context, p invdom.Product) (invdom.Product, error)
	UpdateProduct(ctx context.Context, p invdom.Product) error
	DeleteProduct(ctx context.Context, id int64) error
}
