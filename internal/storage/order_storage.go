package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/jmoiron/sqlx"
)

type orderRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

type orderItemRow struct {
	ProductName    string `db:"product_name"`
	Quantity       int64  `db:"quantity"`
	UnitPriceCents int64  `db:"unit_price_cents"`
}

// OrderStorage is read-only access to orders owned by the order entry application
type OrderStorage struct {
	db *sqlx.DB
}

// NewOrderStorage creates a new OrderStorage instance
func NewOrderStorage(db *sqlx.DB) *OrderStorage {
	return &OrderStorage{db: db}
}

// OrderExists reports whether an order with the given ID exists
func (s *OrderStorage) OrderExists(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to check order: %w", err)
	}
	return exists, nil
}

// GetOrder loads an order with its items
func (s *OrderStorage) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, created_at FROM orders WHERE id = $1`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	query := `
		SELECT product_name, quantity, ROUND(price * 100)::BIGINT AS unit_price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	var items []orderItemRow
	if err := s.db.SelectContext(ctx, &items, query, orderID); err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}

	order := &domain.Order{
		ID:        row.ID,
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
		Items:     make([]domain.OrderItem, len(items)),
	}
	for i, item := range items {
		order.Items[i] = domain.OrderItem(item)
	}
	return order, nil
}
