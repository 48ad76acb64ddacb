// Package memory is the in-process stock store. Mutual exclusion is scoped
// to the product, not the whole catalog: concurrent reservations for
// disjoint products do not contend.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	invdom "github.com/dmehra2102/order-fulfillment/internal/inventory/domain"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

type productEntry struct {
	mu sync.Mutex
	p  invdom.Product
}

// resState records the outcome of an order's first reservation attempt so
// duplicate deliveries replay the outcome instead of the side effect.
type resState struct {
	mu        sync.Mutex
	done      bool
	released  bool
	res       invdom.Reservation
	shortages []invdom.Shortage
}

type Store struct {
	mu       sync.RWMutex
	products map[int64]*productEntry
	nextID   int64

	ledgerMu     sync.Mutex
	reservations map[int64]*resState
}

func NewStore() *Store {
	return &Store{
		products:     make(map[int64]*productEntry),
		reservations: make(map[int64]*resState),
	}
}

// DefaultCatalog is the demo catalog the system ships with.
func DefaultCatalog() []invdom.Product {
	return []invdom.Product{
		{ID: 1, Name: "Notebook", Price: decimal.NewFromInt(2500), Stock: 10},
		{ID: 2, Name: "Mouse", Price: decimal.NewFromInt(50), Stock: 50},
		{ID: 3, Name: "Keyboard", Price: decimal.NewFromInt(150), Stock: 30},
	}
}

func (s *Store) Seed(products ...invdom.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = &productEntry{p: p}
		if p.ID > s.nextID {
			s.nextID = p.ID
		}
	}
}

func (s *Store) state(orderID int64) *resState {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	st, ok := s.reservations[orderID]
	if !ok {
		st = &resState{}
		s.reservations[orderID] = st
	}
	return st
}

func (s *Store) Reserve(_ context.Context, orderID int64, items []orderdom.OrderItem) (invdom.Reservation, []invdom.Shortage, error) {
	st := s.state(orderID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return st.res, st.shortages, nil
	}

	// Snapshot entries, then lock them in id order to avoid deadlock with
	// a concurrent reservation touching an overlapping product set.
	s.mu.RLock()
	entries := make(map[int64]*productEntry, len(items))
	var shortages []invdom.Shortage
	for _, it := range items {
		e, ok := s.products[it.ProductID]
		if !ok {
			shortages = append(shortages, invdom.Shortage{
				ProductID: it.ProductID, Requested: it.Quantity, Available: 0,
			})
			continue
		}
		entries[it.ProductID] = e
	}
	s.mu.RUnlock()

	ids := make([]int64, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		entries[id].mu.Lock()
	}
	unlock := func() {
		for _, id := range ids {
			entries[id].mu.Unlock()
		}
	}

	for _, it := range items {
		e, ok := entries[it.ProductID]
		if !ok {
			continue
		}
		if e.p.Stock < it.Quantity {
			shortages = append(shortages, invdom.Shortage{
				ProductID: it.ProductID, Requested: it.Quantity, Available: e.p.Stock,
			})
		}
	}
	if len(shortages) > 0 {
		unlock()
		st.done = true
		st.shortages = shortages
		return invdom.Reservation{}, shortages, nil
	}

	res := invdom.Reservation{OrderID: orderID, Total: decimal.Zero}
	for _, it := range items {
		e := entries[it.ProductID]
		e.p.Stock -= it.Quantity
		res.Items = append(res.Items, invdom.ReservedItem{
			ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: e.p.Price,
		})
		res.Total = res.Total.Add(e.p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	unlock()

	st.done = true
	st.res = res
	return res, nil, nil
}

func (s *Store) Release(_ context.Context, orderID int64) (bool, error) {
	s.ledgerMu.Lock()
	st, ok := s.reservations[orderID]
	s.ledgerMu.Unlock()
	if !ok {
		return false, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.done || st.released || len(st.res.Items) == 0 {
		return false, nil
	}

	s.mu.RLock()
	for _, it := range st.res.Items {
		if e, ok := s.products[it.ProductID]; ok {
			e.mu.Lock()
			e.p.Stock += it.Quantity
			e.mu.Unlock()
		}
	}
	s.mu.RUnlock()

	st.released = true
	return true, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (invdom.Product, error) {
	s.mu.RLock()
	e, ok := s.products[id]
	s.mu.RUnlock()
	if !ok {
		return invdom.Product{}, invdom.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]invdom.Product, error) {
	s.mu.RLock()
	entries := make([]*productEntry, 0, len(s.products))
	for _, e := range s.products {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]invdom.Product, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.p)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, p invdom.Product) (invdom.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.products[p.ID] = &productEntry{p: p}
	return p, nil
}

func (s *Store) UpdateProduct(_ context.Context, p invdom.Product) error {
	s.mu.RLock()
	e, ok := s.products[p.ID]
	s.mu.RUnlock()
	if !ok {
		return invdom.ErrNotFound
	}
	e.mu.Lock()
	e.p = p
	e.mu.Unlock()
	return nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return invdom.ErrNotFound
	}
	delete(s.products, id)
	return nil
}
