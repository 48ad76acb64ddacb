package application

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-fulfillment/internal/payment/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessPaymentApproves(t *testing.T) {
	svc := NewService(testLogger(), WithRoll(func() float64 { return 1 }))

	out, err := svc.ProcessPayment(context.Background(), 1, decimal.NewFromInt(2500))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected approval, got %q", out.Message)
	}
	if out.PaymentID == "" {
		t.Fatal("expected a payment id")
	}
	p, ok := svc.Payment(1)
	if !ok || p.Status != domain.PaymentApproved {
		t.Fatalf("recorded payment = %+v, ok=%v", p, ok)
	}
}

func TestProcessPaymentDeclines(t *testing.T) {
	svc := NewService(testLogger(), WithRoll(func() float64 { return 0 }))

	out, err := svc.ProcessPayment(context.Background(), 1, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if out.Success {
		t.Fatal("expected decline")
	}
	if out.Message != declineMessage {
		t.Fatalf("message = %q", out.Message)
	}
}

func TestProcessPaymentReplaysFirstOutcome(t *testing.T) {
	rolls := []float64{1, 0}
	i := 0
	svc := NewService(testLogger(), WithRoll(func() float64 {
		r := rolls[i%len(rolls)]
		i++
		return r
	}))

	first, err := svc.ProcessPayment(context.Background(), 7, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.ProcessPayment(context.Background(), 7, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !first.Success || !second.Success {
		t.Fatalf("outcomes diverged: first=%v second=%v", first.Success, second.Success)
	}
	if first.PaymentID != second.PaymentID {
		t.Fatalf("expected one payment, got %s and %s", first.PaymentID, second.PaymentID)
	}
	if i != 1 {
		t.Fatalf("roll called %d times, want 1", i)
	}
}

func TestFailureRateZeroAlwaysApproves(t *testing.T) {
	svc := NewService(testLogger(), WithFailureRate(0))
	for id := int64(1); id <= 20; id++ {
		out, err := svc.ProcessPayment(context.Background(), id, decimal.NewFromInt(10))
		if err != nil {
			t.Fatalf("order %d: %v", id, err)
		}
		if !out.Success {
			t.Fatalf("order %d declined with zero failure rate", id)
		}
	}
}
