// Package memory holds the owned order store. Orders are never deleted,
// only terminally marked, and every mutation for a given order id runs
// under that order's own lock.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

type entry struct {
	mu    sync.Mutex
	order domain.Order
}

type Repository struct {
	mu     sync.RWMutex
	orders map[int64]*entry
	nextID int64
}

func NewRepository() *Repository {
	return &Repository{orders: make(map[int64]*entry)}
}

func (r *Repository) Create(_ context.Context, customerID int64, items []domain.OrderItem) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	o := domain.NewOrder(r.nextID, customerID, items)
	r.orders[o.ID] = &entry{order: o}
	return o, nil
}

func (r *Repository) Register(_ context.Context, o domain.Order) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return false, nil
	}
	r.orders[o.ID] = &entry{order: o}
	if o.ID > r.nextID {
		r.nextID = o.ID
	}
	return true, nil
}

func (r *Repository) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.RLock()
	e, ok := r.orders[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order, nil
}

func (r *Repository) List(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.orders))
	for _, e := range r.orders {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.Order, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.order)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) Update(_ context.Context, id int64, fn func(*domain.Order) error) (domain.Order, error) {
	r.mu.RLock()
	e, ok := r.orders[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	working := e.order
	if err := fn(&working); err != nil {
		return e.order, err
	}
	e.order = working
	return working, nil
}
