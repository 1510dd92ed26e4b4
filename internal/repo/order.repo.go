package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

type OrderRepo interface {
	// CreateOrder fails with domain.ErrAlreadyCommitted when the session already produced an order.
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindBySession(ctx context.Context, sessionID uuid.UUID) (*domain.Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO orders (id, user_id, session_id, total_price, currency, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		order.ID, order.UserID, order.SessionID, order.TotalPrice, order.Currency, order.Status, order.CreatedAt,
	)
	if isUniqueViolation(err, "orders_session_id_key") {
		return domain.ErrAlreadyCommitted
	}
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, name, quantity, unit_price) VALUES ($1, $2, $3, $4, $5)",
			order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, "o.id = $1", id)
}

func (r *orderRepo) FindBySession(ctx context.Context, sessionID uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, "o.session_id = $1", sessionID)
}

func (r *orderRepo) findOne(ctx context.Context, where string, arg any) (*domain.Order, error) {
	orders, err := r.query(ctx, `
		SELECT o.id, o.user_id, o.session_id, o.total_price, o.currency, o.status, o.created_at,
		       i.product_id, i.name, i.quantity, i.unit_price
		FROM orders o JOIN order_items i ON i.order_id = o.id
		WHERE `+where+`
		ORDER BY i.product_id`, arg)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil // not found
	}
	return &orders[0], nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	return r.query(ctx, `
		SELECT o.id, o.user_id, o.session_id, o.total_price, o.currency, o.status, o.created_at,
		       i.product_id, i.name, i.quantity, i.unit_price
		FROM orders o JOIN order_items i ON i.order_id = o.id
		WHERE o.id IN (SELECT id FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2)
		ORDER BY o.created_at DESC, o.id, i.product_id`, userID, limit)
}

// query folds joined order/item rows into orders, keeping row order.
func (r *orderRepo) query(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var item domain.LineItem
		if err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.SessionID,
			&o.TotalPrice,
			&o.Currency,
			&o.Status,
			&o.CreatedAt,
			&item.ProductID,
			&item.Name,
			&item.Quantity,
			&item.UnitPrice,
		); err != nil {
			return nil, err
		}
		if n := len(orders); n > 0 && orders[n-1].ID == o.ID {
			orders[n-1].Items = append(orders[n-1].Items, item)
			continue
		}
		o.Items = []domain.LineItem{item}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
