package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the per-user aggregate. Version 0 means the cart has never been stored.
type Cart struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Version   int64      `json:"version"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ID        int64 `json:"id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func NewEmptyCart(userID int64) *Cart {
	return &Cart{UserID: userID, Items: []CartItem{}}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) Item(itemID int64) (CartItem, bool) {
	for _, it := range c.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return CartItem{}, false
}

func (c *Cart) ItemForProduct(productID int64) (CartItem, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}

func (c *Cart) ProductIDs() []int64 {
	ids := make([]int64, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

func ValidateQuantity(quantity int) error {
	if quantity < 1 {
		return NewValidationError("quantity", "must be at least 1")
	}
	return nil
}

// CartView is a cart priced on the server. Clients never supply totals.
type CartView struct {
	Cart       *Cart
	Lines      []CartLine
	TotalPrice decimal.Decimal
	// Session is the pending checkout session whose prices are locked, if any.
	Session *CheckoutSession
}

type CartLine struct {
	ItemID      int64
	ProductID   int64
	Name        string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	PriceLocked bool
}

// PriceCart computes line and cart totals. Products present in locked are
// priced at the locked unit price instead of the current catalog price.
func PriceCart(cart *Cart, products map[int64]Product, locked map[int64]decimal.Decimal) (*CartView, error) {
	view := &CartView{Cart: cart, Lines: make([]CartLine, 0, len(cart.Items)), TotalPrice: decimal.Zero}
	for _, it := range cart.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("price cart line %d: %w", it.ID, ErrProductNotFound)
		}
		unit, isLocked := locked[it.ProductID]
		if !isLocked {
			unit = p.Price
		}
		lineTotal := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
		view.Lines = append(view.Lines, CartLine{
			ItemID:      it.ID,
			ProductID:   it.ProductID,
			Name:        p.Name,
			Quantity:    it.Quantity,
			UnitPrice:   unit,
			LineTotal:   lineTotal,
			PriceLocked: isLocked,
		})
		view.TotalPrice = view.TotalPrice.Add(lineTotal)
	}
	return view, nil
}
