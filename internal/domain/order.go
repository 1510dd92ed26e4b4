package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
)

type Order struct {
	ID         uuid.UUID
	UserID     int64
	SessionID  uuid.UUID
	Items      []LineItem
	TotalPrice decimal.Decimal
	Currency   string
	Status     OrderStatus
	CreatedAt  time.Time
}

// NewOrderFromSession materializes an order from the session's locked snapshot.
func NewOrderFromSession(s *CheckoutSession, now time.Time) *Order {
	items := make([]LineItem, len(s.Items))
	copy(items, s.Items)
	return &Order{
		ID:         uuid.New(),
		UserID:     s.UserID,
		SessionID:  s.ID,
		Items:      items,
		TotalPrice: SumLines(items),
		Currency:   s.Currency,
		Status:     OrderCreated,
		CreatedAt:  now,
	}
}
