package server

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type cartLineResponse struct {
	ItemID      int64  `json:"item_id"`
	ProductID   int64  `json:"product_id"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
	PriceLocked bool   `json:"price_locked"`
}

type cartResponse struct {
	ID              int64              `json:"id"`
	Version         int64              `json:"version"`
	Items           []cartLineResponse `json:"items"`
	TotalPrice      string             `json:"total_price"`
	CheckoutSession *sessionResponse   `json:"checkout_session,omitempty"`
}

func newCartResponse(v *domain.CartView) cartResponse {
	resp := cartResponse{
		ID:         v.Cart.ID,
		Version:    v.Cart.Version,
		Items:      make([]cartLineResponse, 0, len(v.Lines)),
		TotalPrice: money(v.TotalPrice),
	}
	for _, l := range v.Lines {
		resp.Items = append(resp.Items, cartLineResponse{
			ItemID:      l.ItemID,
			ProductID:   l.ProductID,
			Name:        l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   money(l.UnitPrice),
			LineTotal:   money(l.LineTotal),
			PriceLocked: l.PriceLocked,
		})
	}
	if v.Session != nil {
		s := newSessionResponse(v.Session)
		resp.CheckoutSession = &s
	}
	return resp
}

type lineItemResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

func newLineItems(lines []domain.LineItem) []lineItemResponse {
	out := make([]lineItemResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineItemResponse{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: money(l.UnitPrice),
			LineTotal: money(l.Total()),
		})
	}
	return out
}

type sessionResponse struct {
	SessionID   string               `json:"session_id"`
	ExternalRef string               `json:"external_ref"`
	RedirectRef string               `json:"redirect_ref"`
	Items       []lineItemResponse   `json:"items"`
	TotalPrice  string               `json:"total_price"`
	Currency    string               `json:"currency"`
	Status      domain.SessionStatus `json:"status"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

func newSessionResponse(s *domain.CheckoutSession) sessionResponse {
	return sessionResponse{
		SessionID:   s.ID.String(),
		ExternalRef: s.ExternalRef,
		RedirectRef: s.RedirectRef,
		Items:       newLineItems(s.Items),
		TotalPrice:  money(s.TotalPrice),
		Currency:    s.Currency,
		Status:      s.Status,
		ExpiresAt:   s.ExpiresAt,
	}
}

type orderResponse struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"session_id"`
	Status     domain.OrderStatus `json:"status"`
	Items      []lineItemResponse `json:"items"`
	TotalPrice string             `json:"total_price"`
	Currency   string             `json:"currency"`
	CreatedAt  time.Time          `json:"created_at"`
}

func newOrderResponse(o *domain.Order) *orderResponse {
	if o == nil {
		return nil
	}
	return &orderResponse{
		ID:         o.ID.String(),
		SessionID:  o.SessionID.String(),
		Status:     o.Status,
		Items:      newLineItems(o.Items),
		TotalPrice: money(o.TotalPrice),
		Currency:   o.Currency,
		CreatedAt:  o.CreatedAt,
	}
}

type verifyResponse struct {
	Status         domain.SessionStatus `json:"status"`
	ProviderStatus string               `json:"provider_status"`
	Order          *orderResponse       `json:"order,omitempty"`
}
