package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

// CartRepo stores carts and their lines. Every write bumps carts.version.
type CartRepo interface {
	FindByUser(ctx context.Context, userID int64) (*domain.Cart, error)
	// AddItem creates the cart on first use and merges quantity into an existing line.
	AddItem(ctx context.Context, tx *sql.Tx, userID, productID int64, quantity int) (int64, error)
	// CompareAndBump increments the version iff it still equals expected and
	// returns the cart id. A stale version yields domain.ErrConflict.
	CompareAndBump(ctx context.Context, tx *sql.Tx, userID, expected int64) (int64, error)
	SetItemQuantity(ctx context.Context, tx *sql.Tx, cartID, itemID int64, quantity int) error
	DeleteItem(ctx context.Context, tx *sql.Tx, cartID, itemID int64) error
	Empty(ctx context.Context, tx *sql.Tx, cartID int64) error
}

type cartRepo struct {
	db *sql.DB
}

func NewCartRepo(db *sql.DB) CartRepo {
	return &cartRepo{db: db}
}

func (r *cartRepo) FindByUser(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart := domain.NewEmptyCart(userID)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, version, created_at, updated_at FROM carts WHERE user_id = $1`, userID,
	).Scan(&cart.ID, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find cart of user %d: %w", userID, err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("find cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, it)
	}
	return cart, rows.Err()
}

func (r *cartRepo) AddItem(ctx context.Context, tx *sql.Tx, userID, productID int64, quantity int) (int64, error) {
	var cartID int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO carts (user_id, version) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET version = carts.version + 1, updated_at = now()
		RETURNING id`, userID,
	).Scan(&cartID)
	if err != nil {
		return 0, fmt.Errorf("upsert cart: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		cartID, productID, quantity,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert cart item: %w", err)
	}
	return cartID, nil
}

func (r *cartRepo) CompareAndBump(ctx context.Context, tx *sql.Tx, userID, expected int64) (int64, error) {
	var cartID int64
	err := tx.QueryRowContext(ctx, `
		UPDATE carts SET version = version + 1, updated_at = now()
		WHERE user_id = $1 AND version = $2
		RETURNING id`, userID, expected,
	).Scan(&cartID)
	if err == nil {
		return cartID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("bump cart version: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, domain.ErrCartNotFound
	}
	return 0, domain.ErrConflict
}

func (r *cartRepo) SetItemQuantity(ctx context.Context, tx *sql.Tx, cartID, itemID int64, quantity int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3 WHERE id = $2 AND cart_id = $1`, cartID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("update cart item %d: %w", itemID, err)
	}
	return expectOne(res, domain.ErrItemNotFound)
}

func (r *cartRepo) DeleteItem(ctx context.Context, tx *sql.Tx, cartID, itemID int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $2 AND cart_id = $1`, cartID, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item %d: %w", itemID, err)
	}
	return expectOne(res, domain.ErrItemNotFound)
}

func (r *cartRepo) Empty(ctx context.Context, tx *sql.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("empty cart %d: %w", cartID, err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE carts SET version = version + 1, updated_at = now() WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("bump cart %d: %w", cartID, err)
	}
	return nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
