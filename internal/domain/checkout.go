package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionVerified SessionStatus = "verified"
	SessionFailed   SessionStatus = "failed"
	SessionExpired  SessionStatus = "expired"
)

func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionVerified, SessionFailed, SessionExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s. Only pending
// sessions move, and only into one of the terminal states.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	return s == SessionPending && next.IsTerminal()
}

// LineItem is one price-locked line of a checkout session or order.
type LineItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func SumLines(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

type CheckoutSession struct {
	ID          uuid.UUID
	CartID      int64
	UserID      int64
	Items       []LineItem
	TotalPrice  decimal.Decimal
	Currency    string
	Status      SessionStatus
	ExternalRef string
	RedirectRef string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}

func (s *CheckoutSession) IsExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *CheckoutSession) LockedPrices() map[int64]decimal.Decimal {
	prices := make(map[int64]decimal.Decimal, len(s.Items))
	for _, l := range s.Items {
		prices[l.ProductID] = l.UnitPrice
	}
	return prices
}

// SnapshotCart copies every cart line with the product's current price.
func SnapshotCart(cart *Cart, products map[int64]Product) ([]LineItem, error) {
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}
	lines := make([]LineItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("snapshot product %d: %w", it.ProductID, ErrProductNotFound)
		}
		lines = append(lines, LineItem{
			ProductID: it.ProductID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		})
	}
	return lines, nil
}

func NewExternalRef() string {
	return "cs_" + uuid.NewString()
}
