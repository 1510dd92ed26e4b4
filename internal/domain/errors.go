package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation                 = errors.New("validation failed")
	ErrConflict                   = errors.New("cart was modified concurrently")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrOutOfStock                 = errors.New("out of stock")
	ErrNotFound                   = errors.New("not found")
	ErrSessionExpired             = errors.New("checkout session expired")
	ErrProviderUnavailable        = errors.New("payment provider unavailable")
	ErrUnrecognizedProviderStatus = errors.New("unrecognized payment provider status")
	ErrInvalidTransition          = errors.New("invalid checkout session transition")
	ErrAlreadyCommitted           = errors.New("order already committed for checkout session")
	ErrPendingSessionExists       = errors.New("cart already has a pending checkout session")
)

var (
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrCartNotFound    = fmt.Errorf("cart %w", ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("cart item %w", ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("order %w", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("checkout session %w", ErrNotFound)
)

var ErrEmptyCart = &ValidationError{Field: "cart", Reason: "cart has no items"}

// ValidationError describes a rejected input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type Shortage struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

// StockError names every product that could not cover the requested quantity.
// Kind is either ErrInsufficientStock (soft check) or ErrOutOfStock (commit).
type StockError struct {
	Kind      error
	Shortages []Shortage
}

func InsufficientStock(shortages ...Shortage) *StockError {
	return &StockError{Kind: ErrInsufficientStock, Shortages: shortages}
}

func OutOfStock(shortages ...Shortage) *StockError {
	return &StockError{Kind: ErrOutOfStock, Shortages: shortages}
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("product %d requested %d available %d", s.ProductID, s.Requested, s.Available))
	}
	return fmt.Sprintf("%v: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *StockError) Unwrap() error {
	return e.Kind
}
