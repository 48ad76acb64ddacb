package application

import (
	"context"

	"github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

type OrderRepository interface {
	// Create assigns the next monotonic id and stores the order as PENDING.
	Create(ctx context.Context, customerID int64, items []domain.OrderItem) (domain.Order, error)
	// Register stores an order created elsewhere (id already assigned).
	// Registering an existing id is a no-op; it reports whether the order
	// was newly stored.
	Register(ctx context.Context, o domain.Order) (bool, error)
	Get(ctx context.Context, id int64) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	// Update runs fn on the order under the per-order lock and persists the
	// result when fn returns nil. Transitions for one order id are thereby
	// serialized.
	Update(ctx context.Context, id int64, fn func(*domain.Order) error) (domain.Order, error)
}

// Notifier feeds the update broadcaster. Implementations must not block.
type Notifier interface {
	Notify(ev domain.StatusEvent)
}
