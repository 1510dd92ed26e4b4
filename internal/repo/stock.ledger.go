package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

// StockLedger is the authoritative per-product available quantity.
type StockLedger interface {
	// CheckAvailable is a read-only soft check. It is not authoritative for commit.
	CheckAvailable(ctx context.Context, productID int64, quantity int) error
	// Revalidate locks the products of lines and fails with an OutOfStock
	// StockError naming every line that can no longer be covered.
	Revalidate(ctx context.Context, tx *sql.Tx, lines []domain.LineItem) error
	// ReserveAndDecrement decrements stock iff stock >= quantity.
	ReserveAndDecrement(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error
}

type stockLedger struct {
	db *sql.DB
}

func NewStockLedger(db *sql.DB) StockLedger {
	return &stockLedger{db: db}
}

func (l *stockLedger) CheckAvailable(ctx context.Context, productID int64, quantity int) error {
	var stock int
	err := l.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("check stock of product %d: %w", productID, err)
	}
	if stock < quantity {
		return domain.InsufficientStock(domain.Shortage{ProductID: productID, Requested: quantity, Available: stock})
	}
	return nil
}

func (l *stockLedger) Revalidate(ctx context.Context, tx *sql.Tx, lines []domain.LineItem) error {
	requested := make(map[int64]int, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, seen := requested[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		requested[line.ProductID] += line.Quantity
	}

	// rows are locked in id order so concurrent commits cannot deadlock
	rows, err := tx.QueryContext(ctx,
		`SELECT id, stock FROM products WHERE id = ANY($1) ORDER BY id FOR NO KEY UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("lock stock: %w", err)
	}
	available := make(map[int64]int, len(ids))
	for rows.Next() {
		var id int64
		var stock int
		if err := rows.Scan(&id, &stock); err != nil {
			rows.Close()
			return err
		}
		available[id] = stock
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var shortages []domain.Shortage
	for _, id := range ids {
		if available[id] < requested[id] {
			shortages = append(shortages, domain.Shortage{ProductID: id, Requested: requested[id], Available: available[id]})
		}
	}
	if len(shortages) > 0 {
		return domain.OutOfStock(shortages...)
	}
	return nil
}

func (l *stockLedger) ReserveAndDecrement(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement stock of product %d: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var stock int
	if err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return domain.OutOfStock(domain.Shortage{ProductID: productID, Requested: quantity, Available: stock})
}
