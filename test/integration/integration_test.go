package integration

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	invdom "github.com/dmehra2102/order-fulfillment/internal/inventory/domain"
	invmem "github.com/dmehra2102/order-fulfillment/internal/inventory/infrastructure/memory"
	invpg "github.com/dmehra2102/order-fulfillment/internal/inventory/infrastructure/postgres"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
	"github.com/dmehra2102/order-fulfillment/pkg/bus"
	"github.com/dmehra2102/order-fulfillment/pkg/idempotency"
	"github.com/dmehra2102/order-fulfillment/pkg/kafkabus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEnv(t *testing.T) *Env {
	t.Helper()
	if testing.Short() {
		t.Skip("integration environment skipped in short mode")
	}
	ctx := context.Background()
	env, err := Setup(ctx)
	if err != nil {
		t.Skipf("container environment unavailable: %v", err)
	}
	t.Cleanup(func() { env.Teardown(context.Background()) })
	return env
}

func TestPostgresStockStore(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, env.PGURL)
	if err != nil {
		t.Fatalf("pg connect: %v", err)
	}
	defer pool.Close()

	store := invpg.NewStore(testLogger(), pool)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := store.Seed(ctx, invmem.DefaultCatalog()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// All-or-nothing across rows.
	_, shortages, err := store.Reserve(ctx, 1, []orderdom.OrderItem{
		{ProductID: 2, Quantity: 5},
		{ProductID: 1, Quantity: 99},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(shortages) != 1 || shortages[0].ProductID != 1 {
		t.Fatalf("shortages = %+v", shortages)
	}
	p, err := store.GetProduct(ctx, 2)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Stock != 50 {
		t.Fatalf("stock = %d, want 50 (nothing reserved)", p.Stock)
	}

	// Successful reservation decrements, duplicate replays, release restores.
	res, shortages, err := store.Reserve(ctx, 2, []orderdom.OrderItem{{ProductID: 1, Quantity: 2}})
	if err != nil || len(shortages) != 0 {
		t.Fatalf("reserve: res=%+v shortages=%+v err=%v", res, shortages, err)
	}
	if res.Total.String() != "5000" {
		t.Fatalf("total = %s, want 5000", res.Total)
	}
	if _, _, err := store.Reserve(ctx, 2, []orderdom.OrderItem{{ProductID: 1, Quantity: 2}}); err != nil {
		t.Fatalf("duplicate reserve: %v", err)
	}
	p, _ = store.GetProduct(ctx, 1)
	if p.Stock != 8 {
		t.Fatalf("stock = %d, want 8", p.Stock)
	}

	released, err := store.Release(ctx, 2)
	if err != nil || !released {
		t.Fatalf("release: %v released=%v", err, released)
	}
	if released, _ := store.Release(ctx, 2); released {
		t.Fatal("second release should be a no-op")
	}
	p, _ = store.GetProduct(ctx, 1)
	if p.Stock != 10 {
		t.Fatalf("stock = %d, want 10", p.Stock)
	}

	// A recorded shortage replays on duplicate delivery even after the
	// stock has been raised in the meantime.
	if err := store.UpdateProduct(ctx, invdom.Product{
		ID: 1, Name: p.Name, Price: p.Price, Stock: 200,
	}); err != nil {
		t.Fatalf("update product: %v", err)
	}
	_, shortages, err = store.Reserve(ctx, 1, []orderdom.OrderItem{
		{ProductID: 2, Quantity: 5},
		{ProductID: 1, Quantity: 99},
	})
	if err != nil {
		t.Fatalf("duplicate insufficient reserve: %v", err)
	}
	if len(shortages) != 1 || shortages[0].ProductID != 1 || shortages[0].Available != 10 {
		t.Fatalf("replayed shortages = %+v", shortages)
	}
	p, _ = store.GetProduct(ctx, 2)
	if p.Stock != 50 {
		t.Fatalf("stock = %d, want 50 (replay reserves nothing)", p.Stock)
	}
}

func TestKafkaBusRoundTrip(t *testing.T) {
	env := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := kafkabus.New(testLogger(), env.KAddr, idempotency.NewMemory())
	defer b.Close()

	received := make(chan bus.Envelope, 1)
	err := b.Subscribe(ctx, "it-group", bus.Routes{
		"order.created": func(ctx context.Context, env bus.Envelope) error {
			select {
			case received <- env:
			default:
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.After(60 * time.Second)
	publish := time.NewTicker(2 * time.Second)
	defer publish.Stop()
	for {
		select {
		case env := <-received:
			if env.Key != "1" {
				t.Fatalf("key = %q", env.Key)
			}
			return
		case <-publish.C:
			// Republished until the consumer group finishes joining;
			// the handler tolerates duplicates.
			if err := bus.PublishJSON(ctx, b, "order.created", "1", map[string]int64{"orderId": 1}); err != nil {
				t.Fatalf("publish: %v", err)
			}
		case <-deadline:
			t.Fatal("no delivery within deadline")
		}
	}
}

func TestRedisIdempotencyGuard(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	addr := env.RedisAddr
	addr = strings.TrimPrefix(addr, "redis://")
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	guard := idempotency.NewRedisStore(rdb, time.Minute)
	key := idempotency.MessageKey("order.created", 0, 42)

	seen, err := guard.Seen(ctx, key)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if seen {
		t.Fatal("fresh key reported as seen")
	}
	seen, err = guard.Seen(ctx, key)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !seen {
		t.Fatal("repeated key not reported as seen")
	}
}
