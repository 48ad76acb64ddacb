// Package application holds the payment processor. There is no real payment
// gateway behind it; a configurable failure rate simulates declines.
package application

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-fulfillment/internal/payment/domain"
)

const declineMessage = "Payment processing failed - insufficient funds or card declined"

// Outcome is the business result of a charge attempt. A decline is a valid
// outcome, not an error; errors are reserved for infrastructure faults.
type Outcome struct {
	Success   bool
	PaymentID string
	Message   string
}

type Service struct {
	log         *slog.Logger
	failureRate float64
	roll        func() float64

	mu       sync.Mutex
	payments map[int64]domain.Payment
}

type Option func(*Service)

// WithFailureRate overrides the default 10% decline rate.
func WithFailureRate(rate float64) Option {
	return func(s *Service) { s.failureRate = rate }
}

// WithRoll replaces the random source, for deterministic tests.
func WithRoll(roll func() float64) Option {
	return func(s *Service) { s.roll = roll }
}

func NewService(log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		log:         log,
		failureRate: 0.10,
		roll:        rand.Float64,
		payments:    make(map[int64]domain.Payment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessPayment charges the order amount. Repeated calls for the same order
// replay the first outcome so a redelivered event cannot double-charge.
func (s *Service) ProcessPayment(ctx context.Context, orderID int64, amount decimal.Decimal) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.payments[orderID]; ok {
		s.log.InfoContext(ctx, "payment replayed", "orderId", orderID, "status", p.Status)
		return outcomeOf(p), nil
	}

	p := domain.Payment{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Amount:    amount,
		Status:    domain.PaymentApproved,
		CreatedAt: time.Now().UTC(),
	}
	if s.roll() < s.failureRate {
		p.Status = domain.PaymentFailed
	}
	s.payments[orderID] = p

	s.log.InfoContext(ctx, "payment processed",
		"orderId", orderID, "paymentId", p.ID, "amount", amount.String(), "status", p.Status)
	return outcomeOf(p), nil
}

// Payment returns the recorded attempt for an order, if any.
func (s *Service) Payment(orderID int64) (domain.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[orderID]
	return p, ok
}

func outcomeOf(p domain.Payment) Outcome {
	if p.Status == domain.PaymentApproved {
		return Outcome{Success: true, PaymentID: p.ID, Message: "Payment approved"}
	}
	return Outcome{Success: false, PaymentID: p.ID, Message: declineMessage}
}
