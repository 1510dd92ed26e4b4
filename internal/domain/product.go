package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the catalog. This service only ever changes Stock.
type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Product) Covers(quantity int) bool {
	return p.Stock >= quantity
}
