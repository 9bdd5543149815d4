// Package pricing holds the money arithmetic shared by checkout, order
// placement and the client cart. All amounts are decimal and rounded to
// cents only where a value is presented or stored.
package pricing

import "github.com/shopspring/decimal"

// DefaultTaxRate is the flat surcharge applied to every order.
var DefaultTaxRate = decimal.RequireFromString("0.10")

var hundred = decimal.NewFromInt(100)

// LineTotal is price × quantity.
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// Line is anything that contributes price × quantity to a subtotal.
type Line interface {
	UnitPrice() decimal.Decimal
	Units() int
}

// Subtotal sums the line totals of lines.
func Subtotal[L Line](lines []L) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(LineTotal(l.UnitPrice(), l.Units()))
	}
	return sum
}

// Tax returns the surcharge on subtotal, rounded to cents.
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate).Round(2)
}

// ApplyTax returns subtotal × (1 + rate), rounded to cents.
func ApplyTax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(decimal.NewFromInt(1).Add(rate)).Round(2)
}

// ToMinorUnits converts an amount into the smallest currency unit (cents).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts a smallest-currency-unit amount back to a decimal.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
