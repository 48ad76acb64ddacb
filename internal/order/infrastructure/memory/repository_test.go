package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		o, err := r.Create(ctx, 7, nil)
		if err != nil {
			t.Fatal(err)
		}
		if o.ID != want {
			t.Fatalf("id = %d, want %d", o.ID, want)
		}
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	o := domain.NewOrder(42, 7, nil)
	stored, err := r.Register(ctx, o)
	if err != nil || !stored {
		t.Fatalf("first register: stored=%v err=%v", stored, err)
	}
	stored, err = r.Register(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	if stored {
		t.Fatal("duplicate register must be a no-op")
	}

	// ids continue past the registered one
	next, err := r.Create(ctx, 7, nil)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != 43 {
		t.Fatalf("next id = %d, want 43", next.ID)
	}
}

func TestGetUnknown(t *testing.T) {
	r := NewRepository()
	if _, err := r.Get(context.Background(), 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateFailedFnDoesNotPersist(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()
	o, _ := r.Create(ctx, 7, nil)

	_, err := r.Update(ctx, o.ID, func(o *domain.Order) error {
		return o.Advance(domain.StatusShipped) // illegal from PENDING
	})
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("err = %v", err)
	}

	got, _ := r.Get(ctx, o.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, failed update must not persist", got.Status)
	}
}

func TestUpdateSerializesPerOrder(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()
	o, _ := r.Create(ctx, 7, nil)

	// Concurrent attempts at the same single transition: exactly one wins.
	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Update(ctx, o.ID, func(o *domain.Order) error {
				return o.Advance(domain.StatusInInventory)
			})
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
}
