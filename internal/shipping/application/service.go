// Package application holds the shipping carrier simulator. Creating a
// shipment assigns a tracking code and schedules the delivery after a fixed
// transit delay.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmehra2102/order-fulfillment/internal/shipping/domain"
	"github.com/dmehra2102/order-fulfillment/pkg/scheduler"
)

type Outcome struct {
	Success      bool
	ShipmentID   int64
	TrackingCode string
	Message      string
}

// DeliveredFunc is called once a shipment's transit delay elapses. It runs on
// the scheduler goroutine.
type DeliveredFunc func(domain.Shipment)

type Service struct {
	log          *slog.Logger
	sched        scheduler.Scheduler
	transitDelay time.Duration
	onDelivered  DeliveredFunc

	mu        sync.Mutex
	nextID    int64
	shipments map[int64]*domain.Shipment
}

func NewService(log *slog.Logger, sched scheduler.Scheduler, transitDelay time.Duration, onDelivered DeliveredFunc) *Service {
	return &Service{
		log:          log,
		sched:        sched,
		transitDelay: transitDelay,
		onDelivered:  onDelivered,
		nextID:       1,
		shipments:    make(map[int64]*domain.Shipment),
	}
}

// CreateShipment registers a shipment for the order and schedules its
// delivery. A repeated call for the same order returns the existing shipment
// without scheduling a second delivery.
func (s *Service) CreateShipment(ctx context.Context, orderID int64) (Outcome, error) {
	s.mu.Lock()
	for _, sh := range s.shipments {
		if sh.OrderID == orderID {
			out := outcomeOf(*sh)
			s.mu.Unlock()
			s.log.InfoContext(ctx, "shipment replayed", "orderId", orderID, "shipmentId", out.ShipmentID)
			return out, nil
		}
	}
	id := s.nextID
	s.nextID++
	sh := &domain.Shipment{
		ID:           id,
		OrderID:      orderID,
		TrackingCode: fmt.Sprintf("TRK%d%d", time.Now().UnixMilli(), id),
		Status:       domain.ShipmentCreated,
		CreatedAt:    time.Now().UTC(),
	}
	s.shipments[id] = sh
	s.mu.Unlock()

	s.sched.Schedule(s.transitDelay, func() { s.deliver(id) })

	s.log.InfoContext(ctx, "shipment created",
		"orderId", orderID, "shipmentId", id, "trackingCode", sh.TrackingCode)
	return outcomeOf(*sh), nil
}

// Shipment returns the shipment for an order, if any.
func (s *Service) Shipment(orderID int64) (domain.Shipment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range s.shipments {
		if sh.OrderID == orderID {
			return *sh, true
		}
	}
	return domain.Shipment{}, false
}

func (s *Service) deliver(id int64) {
	s.mu.Lock()
	sh, ok := s.shipments[id]
	if !ok || sh.Status == domain.ShipmentDelivered {
		s.mu.Unlock()
		return
	}
	sh.Status = domain.ShipmentDelivered
	sh.DeliveredAt = time.Now().UTC()
	delivered := *sh
	s.mu.Unlock()

	s.log.Info("shipment delivered", "orderId", delivered.OrderID, "shipmentId", id)
	if s.onDelivered != nil {
		s.onDelivered(delivered)
	}
}

func outcomeOf(sh domain.Shipment) Outcome {
	return Outcome{
		Success:      true,
		ShipmentID:   sh.ID,
		TrackingCode: sh.TrackingCode,
		Message:      "Shipment created",
	}
}
