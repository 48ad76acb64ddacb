package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	invdom "github.com/dmehra2102/order-fulfillment/internal/inventory/domain"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

// ReserveOutcome is the structured result of a reservation attempt.
// Business failure travels here, not as a Go error.
type ReserveOutcome struct {
	Success   bool
	Total     decimal.Decimal
	Message   string
	Shortages []invdom.Shortage
}

type Service struct {
	log   *slog.Logger
	store StockStore
}

func NewService(log *slog.Logger, store StockStore) *Service {
	return &Service{log: log, store: store}
}

// ReserveStock validates the request and performs the all-or-nothing
// reservation. Validation failures are rejected before any reservation
// attempt.
func (s *Service) ReserveStock(ctx context.Context, orderID, customerID int64, items []orderdom.OrderItem) (ReserveOutcome, error) {
	if len(items) == 0 {
		return ReserveOutcome{Message: "order has no items"}, nil
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return ReserveOutcome{
				Message: fmt.Sprintf("invalid quantity %d for product %d", it.Quantity, it.ProductID),
			}, nil
		}
	}

	res, shortages, err := s.store.Reserve(ctx, orderID, items)
	if err != nil {
		return ReserveOutcome{}, err
	}
	if len(shortages) > 0 {
		s.log.Warn("insufficient stock", "order_id", orderID, "short_items", len(shortages))
		return ReserveOutcome{Message: "Insufficient stock", Shortages: shortages}, nil
	}

	s.log.Info("stock reserved", "order_id", orderID, "total", res.Total.String())
	return ReserveOutcome{Success: true, Total: res.Total, Message: "Stock reserved successfully"}, nil
}

// ReleaseStock is the compensation: it restores whatever this order had
// reserved. Safe to call for orders whose reservation never succeeded and
// safe to repeat (duplicate cancellation signals are expected).
func (s *Service) ReleaseStock(ctx context.Context, orderID int64, _ []orderdom.OrderItem) error {
	released, err := s.store.Release(ctx, orderID)
	if err != nil {
		return err
	}
	if released {
		s.log.Info("stock released", "order_id", orderID)
	}
	return nil
}

func (s *Service) Products(ctx context.Context) ([]invdom.Product, error) {
	return s.store.ListProducts(ctx)
}

func (s *Service) Product(ctx context.Context, id int64) (invdom.Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, p invdom.Product) (invdom.Product, error) {
	if p.Name == "" || p.Stock < 0 || p.Price.IsNegative() {
		return invdom.Product{}, fmt.Errorf("invalid product")
	}
	return s.store.CreateProduct(ctx, p)
}

func (s *Service) UpdateProduct(ctx context.Context, p invdom.Product) error {
	return s.store.UpdateProduct(ctx, p)
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.store.DeleteProduct(ctx, id)
}
