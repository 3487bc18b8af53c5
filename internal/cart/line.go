// Package cart turns upstream cart records into canonical checkout lines.
package cart

import (
	"strings"

	"github.com/pahana-edu/bookshop-checkout/internal/money"
)

// UnknownProductName labels lines whose upstream record carries no name.
const UnknownProductName = "Unknown Product"

// Upper bounds for a single line. Larger values are capped and reported as corrections.
const (
	MaxQuantity  = 10_000
	MaxUnitPrice = money.Money(100_000_000_00)
)

// Line is one product line in a user's cart. The JSON shape matches the order item the bookshop
// backend expects.
type Line struct {
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"price"`
}

// Total is UnitPrice * Quantity. It fails with money.ErrOverflow instead of wrapping.
func (l Line) Total() (money.Money, error) {
	return money.Mul(l.UnitPrice, int64(l.Quantity))
}

// Canonicalize re-applies the line invariants to already typed lines: trimmed identifiers,
// a non-empty name, quantity in [1, MaxQuantity] and a price in [0, MaxUnitPrice].
func Canonicalize(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		l.ProductID = strings.TrimSpace(l.ProductID)
		l.ProductName = strings.TrimSpace(l.ProductName)
		if l.ProductName == "" {
			l.ProductName = UnknownProductName
		}
		l.Quantity = min(max(l.Quantity, 1), MaxQuantity)
		l.UnitPrice = min(l.UnitPrice.NonNegative(), MaxUnitPrice)
		out = append(out, l)
	}
	return out
}
