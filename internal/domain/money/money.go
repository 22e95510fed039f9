// Package money defines the integer minor-unit currency representation used
// across every interface boundary. Amounts are never floats; decimal values
// appear only transiently inside fee arithmetic and are rounded back here.
package money

import "github.com/shopspring/decimal"

// Cents is a monetary amount in the smallest currency unit.
type Cents int64

// Decimal converts the amount to an exact decimal value.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c))
}

// MulQty returns the amount multiplied by a line item quantity.
func (c Cents) MulQty(qty int) Cents {
	return c * Cents(qty)
}

// FromDecimal rounds a decimal amount half away from zero to whole minor units.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Round(0).IntPart())
}
