// Package postgres backs the stock store with Postgres. Row-level locks
// (SELECT ... FOR UPDATE) give the per-product mutual exclusion, and the
// single transaction gives all-or-nothing reservation.
package postgres

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	invdom "github.com/dmehra2102/order-fulfillment/internal/inventory/domain"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
    id    BIGSERIAL PRIMARY KEY,
    name  TEXT NOT NULL,
    price NUMERIC NOT NULL,
    stock INT NOT NULL CHECK (stock >= 0)
);
CREATE TABLE IF NOT EXISTS reservations (
    order_id   BIGINT NOT NULL,
    product_id BIGINT NOT NULL REFERENCES products(id),
    quantity   INT NOT NULL,
    unit_price NUMERIC NOT NULL,
    released   BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (order_id, product_id)
);
CREATE TABLE IF NOT EXISTS reservation_shortages (
    order_id   BIGINT NOT NULL,
    product_id BIGINT NOT NULL,
    requested  INT NOT NULL,
    available  INT NOT NULL,
    PRIMARY KEY (order_id, product_id)
);`

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// EnsureSchema creates the tables on startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Seed inserts products with fixed ids if the catalog is empty.
func (s *Store) Seed(ctx context.Context, products []invdom.Product) error {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, p := range products {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO products (id, name, price, stock) VALUES ($1,$2,$3,$4)`,
			p.ID, p.Name, p.Price, p.Stock)
		if err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('products','id'), (SELECT max(id) FROM products))`)
	return err
}

func (s *Store) Reserve(ctx context.Context, orderID int64, items []orderdom.OrderItem) (invdom.Reservation, []invdom.Shortage, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return invdom.Reservation{}, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Duplicate delivery: replay the recorded outcome.
	existing, err := s.reservationItems(ctx, tx, orderID)
	if err != nil {
		return invdom.Reservation{}, nil, err
	}
	if len(existing) > 0 {
		res := invdom.Reservation{OrderID: orderID, Items: existing, Total: totalOf(existing)}
		return res, nil, tx.Commit(ctx)
	}
	recorded, err := s.shortageItems(ctx, tx, orderID)
	if err != nil {
		return invdom.Reservation{}, nil, err
	}
	if len(recorded) > 0 {
		return invdom.Reservation{}, recorded, tx.Commit(ctx)
	}

	// Lock rows in id order so overlapping reservations cannot deadlock.
	sorted := make([]orderdom.OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var shortages []invdom.Shortage
	res := invdom.Reservation{OrderID: orderID, Total: decimal.Zero}
	for _, it := range sorted {
		var price decimal.Decimal
		var stock int
		err := tx.QueryRow(ctx,
			`SELECT price, stock FROM products WHERE id=$1 FOR UPDATE`, it.ProductID).
			Scan(&price, &stock)
		if errors.Is(err, pgx.ErrNoRows) {
			shortages = append(shortages, invdom.Shortage{ProductID: it.ProductID, Requested: it.Quantity})
			continue
		}
		if err != nil {
			return invdom.Reservation{}, nil, err
		}
		if stock < it.Quantity {
			shortages = append(shortages, invdom.Shortage{
				ProductID: it.ProductID, Requested: it.Quantity, Available: stock,
			})
			continue
		}
		res.Items = append(res.Items, invdom.ReservedItem{
			ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: price,
		})
	}
	if len(shortages) > 0 {
		// All-or-nothing: reserve nothing, but record the outcome so a
		// duplicate delivery replays the same shortage.
		for _, sh := range shortages {
			if _, err := tx.Exec(ctx,
				`INSERT INTO reservation_shortages (order_id, product_id, requested, available)
				 VALUES ($1,$2,$3,$4)`,
				orderID, sh.ProductID, sh.Requested, sh.Available); err != nil {
				return invdom.Reservation{}, nil, err
			}
		}
		return invdom.Reservation{}, shortages, tx.Commit(ctx)
	}

	for _, it := range res.Items {
		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2 WHERE id=$1`, it.ProductID, it.Quantity); err != nil {
			return invdom.Reservation{}, nil, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO reservations (order_id, product_id, quantity, unit_price) VALUES ($1,$2,$3,$4)`,
			orderID, it.ProductID, it.Quantity, it.UnitPrice); err != nil {
			return invdom.Reservation{}, nil, err
		}
		res.Total = res.Total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return res, nil, tx.Commit(ctx)
}

func (s *Store) Release(ctx context.Context, orderID int64) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT product_id, quantity FROM reservations
		 WHERE order_id=$1 AND NOT released FOR UPDATE`, orderID)
	if err != nil {
		return false, err
	}
	type pq struct {
		productID int64
		qty       int
	}
	var held []pq
	for rows.Next() {
		var h pq
		if err := rows.Scan(&h.productID, &h.qty); err != nil {
			rows.Close()
			return false, err
		}
		held = append(held, h)
	}
	rows.Close()
	if len(held) == 0 {
		return false, tx.Commit(ctx)
	}

	for _, h := range held {
		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock + $2 WHERE id=$1`, h.productID, h.qty); err != nil {
			return false, err
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE reservations SET released = TRUE WHERE order_id=$1`, orderID); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *Store) reservationItems(ctx context.Context, tx pgx.Tx, orderID int64) ([]invdom.ReservedItem, error) {
	rows, err := tx.Query(ctx,
		`SELECT product_id, quantity, unit_price FROM reservations WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []invdom.ReservedItem
	for rows.Next() {
		var it invdom.ReservedItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) shortageItems(ctx context.Context, tx pgx.Tx, orderID int64) ([]invdom.Shortage, error) {
	rows, err := tx.Query(ctx,
		`SELECT product_id, requested, available FROM reservation_shortages WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invdom.Shortage
	for rows.Next() {
		var sh invdom.Shortage
		if err := rows.Scan(&sh.ProductID, &sh.Requested, &sh.Available); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func totalOf(items []invdom.ReservedItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

func (s *Store) GetProduct(ctx context.Context, id int64) (invdom.Product, error) {
	var p invdom.Product
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, price, stock FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return invdom.Product{}, invdom.ErrNotFound
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]invdom.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, price, stock FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invdom.Product
	for rows.Next() {
		var p invdom.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, p invdom.Product) (invdom.Product, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO products (name, price, stock) VALUES ($1,$2,$3) RETURNING id`,
		p.Name, p.Price, p.Stock).Scan(&p.ID)
	return p, err
}

func (s *Store) UpdateProduct(ctx context.Context, p invdom.Product) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE products SET name=$2, price=$3, stock=$4 WHERE id=$1`,
		p.ID, p.Name, p.Price, p.Stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return invdom.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return invdom.ErrNotFound
	}
	return nil
}
