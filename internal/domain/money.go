package domain

import "github.com/shopspring/decimal"

const DefaultCurrency = "thb"

// MinorUnits converts an amount to the provider's integer unit (satang for THB).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
