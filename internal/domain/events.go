package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventOrderCreated = "order.created"

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type OrderCreatedPayload struct {
	OrderID    uuid.UUID       `json:"order_id"`
	SessionID  uuid.UUID       `json:"session_id"`
	UserID     int64           `json:"user_id"`
	Items      []LineItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
	CreatedAt  time.Time       `json:"created_at"`
}

func NewOrderCreatedPayload(o *Order) OrderCreatedPayload {
	return OrderCreatedPayload{
		OrderID:    o.ID,
		SessionID:  o.SessionID,
		UserID:     o.UserID,
		Items:      o.Items,
		TotalPrice: o.TotalPrice,
		Currency:   o.Currency,
		CreatedAt:  o.CreatedAt,
	}
}
